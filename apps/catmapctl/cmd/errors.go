package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/qerr"
)

// exitIfCodedError prints err with guidance for its code and exits with the
// status the code maps to.
func exitIfCodedError(err error) {
	if err == nil {
		return
	}
	code := qerr.CodeOf(err)

	var verr *catmap.ValidationError
	switch {
	case errors.As(err, &verr):
		fmt.Fprintln(os.Stderr, "❌ invalid run parameters:")
		for _, p := range verr.Problems {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
	case code == qerr.CodeMissingOutput:
		fmt.Fprintf(os.Stderr, "❌ %v\n   check the stdout capture for a CatMAP traceback\n", err)
	case code == qerr.CodeMissingResultKey:
		fmt.Fprintf(os.Stderr, "❌ %v\n   the solver most likely did not converge\n", err)
	default:
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	}
	os.Exit(qerr.ExitStatus(code))
}
