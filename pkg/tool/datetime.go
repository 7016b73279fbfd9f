package tool

import (
	"context"
	"time"

	"github.com/relcore/toolgate/pkg/chatmodel"
)

// datetimeArgs accepts an optional IANA zone name; an empty or invalid zone
// falls back to UTC rather than erroring, since a model-guessed zone name
// is a poor reason to fail the whole tool call.
type datetimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name, e.g. 'America/New_York'. Defaults to UTC."`
}

// DateTimeTool reports the current wall-clock time, one of the gateway's
// built-in reference tools.
type DateTimeTool struct {
	now func() time.Time
}

func NewDateTimeTool() *DateTimeTool {
	return &DateTimeTool{now: time.Now}
}

func (t *DateTimeTool) Descriptor() chatmodel.ToolDescriptor {
	return chatmodel.ToolDescriptor{
		Name:        "datetime_now",
		Description: "Return the current date and time, optionally in a given IANA timezone.",
		Schema:      schemaFor(datetimeArgs{}),
	}
}

func (t *DateTimeTool) Execute(ctx context.Context, args map[string]any) Result {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return Result{Content: t.now().In(loc).Format(time.RFC3339)}
}
