package utility

import (
	"fmt"
	"math"
	"time"
)

func TimeAgo(t, now time.Time) string {
	duration := now.Sub(t).Round(time.Minute)
	minutes := int(math.Abs(duration.Minutes()))
	switch {
	case minutes == 0:
		return "just now"
	case minutes == 1:
		return "1 minute ago"
	case minutes < 60:
		return fmt.Sprintf("%d minutes ago", minutes)
	case minutes < 120:
		return "1 hour ago"
	case minutes < 1440:
		return fmt.Sprintf("%d hours ago", minutes/60)
	case minutes < 2880:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", minutes/1440)
	}
}
