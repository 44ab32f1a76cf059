package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"gridvpn/internal/core"
	"gridvpn/internal/link"
)

func (a *app) runAdd(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	uri := args[0]
	d, err := link.Parse(uri)
	if err != nil {
		return err
	}
	name := d.Name
	if len(args) == 2 {
		name = args[1]
	}
	i := a.cm.AddLink(uri, name)
	if err := a.cm.Save(); err != nil {
		return err
	}
	fmt.Printf("Stored link %d: %s\n", i, summarize(d))
	return nil
}

func (a *app) runList() error {
	cfg := a.cm.Get()
	if len(cfg.Links) == 0 {
		fmt.Println("No links stored. Add one with: gridvpn add <uri>")
		return nil
	}
	writeLinks(os.Stdout, cfg.Links, cfg.Selected)
	return nil
}

func (a *app) runRemove(args []string) error {
	i, err := indexArg(args)
	if err != nil {
		return err
	}
	if err := a.cm.RemoveLink(i); err != nil {
		return err
	}
	return a.cm.Save()
}

func (a *app) runSelect(args []string) error {
	i, err := indexArg(args)
	if err != nil {
		return err
	}
	if err := a.cm.Select(i); err != nil {
		return err
	}
	return a.cm.Save()
}

func (a *app) runImport(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	n, err := a.cm.ImportPathsFile(args[0])
	if err != nil {
		return err
	}
	if err := a.cm.Save(); err != nil {
		return err
	}
	fmt.Printf("Imported %d new link(s)\n", n)
	return nil
}

func indexArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errUsage
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid link index %q", args[0])
	}
	return i, nil
}

// writeLinks prints one line per stored link. Links that no longer parse
// are still listed with the error.
func writeLinks(w io.Writer, links []core.SavedLink, selected int) {
	for i, l := range links {
		mark := " "
		if i == selected {
			mark = "*"
		}
		label := l.Name
		d, err := link.Parse(l.URI)
		if err != nil {
			fmt.Fprintf(w, "%s %d  %s  (invalid: %v)\n", mark, i, label, err)
			continue
		}
		if label == "" {
			label = d.Name
		}
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "%s %d  %s  %s\n", mark, i, label, summarize(d))
	}
}

func summarize(d link.Descriptor) string {
	return fmt.Sprintf("%s %s %s/%s", d.Protocol, d.Address(), d.Transport, d.Security)
}
