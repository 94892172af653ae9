package merge

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type dumpEntry struct {
	Cluster  string   `json:"cluster"`
	Root     string   `json:"root_state"`
	States   []string `json:"states"`
	Overview string   `json:"overview"`
	Tested   []string `json:"tested,omitempty"`
}

// Dump writes the merge graph as indented JSON: one entry per cluster with
// its root, members and overview.
func (ix *Index) Dump(w io.Writer) error {
	clusters := ix.Clusters()
	entries := make([]dumpEntry, 0, len(clusters))
	for _, c := range clusters {
		e := dumpEntry{
			Cluster:  fmt.Sprintf("MergedState%d", c.ID),
			Root:     fmt.Sprintf("R%d", c.Root),
			Overview: c.Overview,
		}
		for _, m := range c.Members {
			e.States = append(e.States, fmt.Sprintf("State%d", m))
		}
		for _, f := range c.Functions {
			if c.Tested(f.Name) {
				e.Tested = append(e.Tested, f.Name)
			}
		}
		entries = append(entries, e)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(entries)
}

// DumpFile truncates path and writes the dump into it.
func (ix *Index) DumpFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ix.Dump(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
