package rtc

import (
	"context"

	"github.com/dkeye/Barz/internal/core"
)

// StaticPermissions answers media permission checks from configuration on
// headless hosts where no OS prompt exists.
type StaticPermissions struct {
	Granted bool
}

func (p StaticPermissions) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.Granted {
		return core.ErrPermissionsDenied
	}
	return nil
}
