package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/lumen/tool"
)

var timeLayouts = map[string]string{
	"date": "Monday, January 2, 2006",
	"time": "15:04:05",
	"full": "Monday, January 2, 2006 15:04:05",
}

// NewCurrentTime returns the get_current_time tool. format is one of ISO,
// date, time or full (default).
func NewCurrentTime(clock func() time.Time, loc *time.Location) tool.Tool {
	if clock == nil {
		clock = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return tool.NewFunctionTool(
		"get_current_time",
		"Get the current date and time. Use it when the user asks what time or what day it is.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"format": map[string]any{
					"type":        "string",
					"description": "Optional output format. Defaults to full.",
					"enum":        []string{"ISO", "date", "time", "full"},
				},
			},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			format, _ := args["format"].(string)
			if format == "" {
				format = "full"
			}
			now := clock()

			var content string
			if format == "ISO" {
				content = now.UTC().Format("2006-01-02T15:04:05.000Z")
			} else {
				content = now.In(loc).Format(timeLayouts[format])
			}
			return tool.Result{
				Content: fmt.Sprintf("Current time (%s): %s", format, content),
				Display: content,
			}, nil
		},
	).WithLabel("Current time")
}
