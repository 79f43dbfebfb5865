package folder

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Stage copies every CopySpec source from local disk into sandbox.
func Stage(ctx context.Context, sandbox Sandbox, copies []CopySpec) error {
	for _, c := range copies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stageOne(ctx, sandbox, c); err != nil {
			return fmt.Errorf("failed to stage %s: %w", c.Source, err)
		}
	}
	return nil
}

func stageOne(ctx context.Context, sandbox Sandbox, c CopySpec) (err error) {
	src, err := os.Open(c.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := sandbox.Create(ctx, c.Target)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(dst, src)
	return err
}
