package output

import (
	"context"
	"fmt"
	"time"
)

func StatusBar(ctx context.Context, refreshRate time.Duration, printF func()) {
	ticker := time.NewTicker(refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printF()
		case <-ctx.Done():
			return
		}
	}
}

func PrettyProfileStatus(rate, skipped, failed uint64, bufUtil int) string {
	return fmt.Sprintf("%-16s %-16s %-16s %-30s",
		fmt.Sprintf("Samples/s: %4d", rate),
		fmt.Sprintf("Empty: %6d", skipped),
		fmt.Sprintf("Failed: %6d", failed),
		fmt.Sprintf("Events Buffer: [%s] %3d%%", ProgressBar(bufUtil, 10), bufUtil),
	)
}
