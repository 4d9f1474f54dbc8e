package tools

import (
	"context"
	"fmt"
	"time"
)

// NewTimeTool creates the current_time tool
func NewTimeTool() *Tool {
	return &Tool{
		ID:          "current_time",
		Name:        "Current Time",
		Description: "Get the current time in a specific timezone",
		Params: map[string]Param{
			"timezone": {
				Type:        "string",
				Description: "Timezone name (e.g., 'America/New_York', 'Asia/Tokyo', 'UTC'). Defaults to UTC.",
				Visibility:  VisibilityUserOrLLM,
				Default:     "UTC",
			},
		},
		Execute: executeCurrentTime,
	}
}

func executeCurrentTime(_ context.Context, args map[string]any) (map[string]any, error) {
	timezone := "UTC"
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		timezone = tz
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s', use format like 'America/New_York' or 'UTC'", timezone)
	}

	now := time.Now().In(loc)
	return map[string]any{
		"time":     now.Format("2006-01-02 15:04:05 MST"),
		"timezone": timezone,
		"unix":     now.Unix(),
	}, nil
}
