package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/engine"
)

var summarized = []engine.ActionType{
	engine.ActionStoreBatch,
	engine.ActionSyncDeletions,
	engine.ActionUploadBatch,
	engine.ActionSubmitDeletions,
	engine.ActionUploadAttachment,
	engine.ActionForcedDownload,
}

// printSummary writes a short human readable report of res.
func printSummary(w io.Writer, res engine.Result, took time.Duration) {
	status := "ok"
	if res.Err != nil {
		status = "failed"
	}
	fmt.Fprintf(w, "sync %s in %s: %d writes, %d conflicts, %d retries\n",
		status, took.Round(time.Millisecond), res.Writes, len(res.Conflicts), len(res.RetryDelays))

	for _, t := range summarized {
		if n := res.Count(t); n > 0 {
			fmt.Fprintf(w, "  %-26s %d\n", t, n)
		}
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(w, "  conflict %s %s %s %s\n", c.Type, c.Library, c.Kind, strings.Join(c.Keys, ","))
	}

	libs := make([]string, 0, len(res.LibraryErrors))
	errs := make(map[string]error, len(res.LibraryErrors))
	for id, err := range res.LibraryErrors {
		libs = append(libs, id.String())
		errs[id.String()] = err
	}
	slices.Sort(libs)
	for _, l := range libs {
		fmt.Fprintf(w, "  %s: %v\n", l, errs[l])
	}
	if res.Err != nil && len(libs) == 0 {
		fmt.Fprintf(w, "  error: %v\n", res.Err)
	}
}
