// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/keywarden/keywarden/lib/ipc"
)

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printRecents(response ipc.Response) {
	if len(response.Entries) == 0 {
		fmt.Fprintln(os.Stderr, "no recent entries")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	for _, entry := range response.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%d uses\n",
			entry.Path,
			relativeTime(time.Unix(entry.Touched, 0)),
			entry.Uses,
		)
	}
	tw.Flush()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// relativeTime renders a past timestamp the way a person reads a
// recents list. Precision decays with distance.
func relativeTime(t time.Time) string {
	span := time.Since(t)
	switch {
	case span < time.Minute:
		return "just now"
	case span < time.Hour:
		return fmt.Sprintf("%dm ago", int(span.Minutes()))
	case span < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(span.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(span.Hours()/24))
	}
}
