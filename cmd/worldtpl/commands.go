package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/annel0/world-templates/internal/api"
	"github.com/annel0/world-templates/internal/observability"
)

type command struct {
	minArgs  int
	maxArgs  int
	argsHelp string
	run      func(ctx context.Context, a *app, args []string, out io.Writer) error
}

var commands = map[string]command{
	"create": {1, 2, "<world> [template]", runCreate},
	"load":   {2, 2, "<template> <new-world>", runLoad},
	"delete": {1, 1, "<template>", runDelete},
	"list":   {0, 0, "без аргументов", runList},
	"export": {2, 2, "<template> <file>", runExport},
	"import": {2, 2, "<file> <template>", runImport},
	"serve":  {0, 0, "без аргументов", runServe},
	"token":  {1, 2, "<operator> [admin]", runToken},
}

func runCreate(ctx context.Context, a *app, args []string, out io.Writer) error {
	worldName, templateName := args[0], ""
	if len(args) > 1 {
		templateName = args[1]
	}

	ok, err := a.orch.CreateTemplateFromWorld(ctx, worldName, templateName).Wait(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("шаблон из мира %q не создан, подробности в логе", worldName)
	}
	if templateName == "" {
		templateName = worldName
	}
	fmt.Fprintf(out, "✅ шаблон %s создан из мира %s\n", templateName, worldName)
	return nil
}

func runLoad(ctx context.Context, a *app, args []string, out io.Writer) error {
	h, err := a.orch.LoadTemplate(ctx, args[0], args[1]).Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✅ мир %s загружен из шаблона %s (id=%s, %s)\n", h.Name, args[0], h.ID, h.Dir)
	return nil
}

func runDelete(ctx context.Context, a *app, args []string, out io.Writer) error {
	if _, err := a.orch.DeleteTemplate(ctx, args[0]).Wait(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "🗑️ шаблон %s удалён\n", args[0])
	return nil
}

func runList(ctx context.Context, a *app, _ []string, out io.Writer) error {
	templates, err := a.store.List()
	if err != nil {
		return err
	}
	records, err := a.registry.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ШАБЛОНЫ (%s)\n", a.store.Root())
	for _, name := range templates {
		fmt.Fprintf(tw, "  %s\n", name)
	}
	fmt.Fprintf(tw, "МИРЫ (%s)\n", a.runtime.WorldContainer())
	for _, h := range a.runtime.Worlds() {
		registered := "-"
		for _, rec := range records {
			if rec.Name == h.Name {
				registered = rec.RegisteredAt.Format("2006-01-02 15:04:05")
				break
			}
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", h.Name, h.ID, registered)
	}
	return tw.Flush()
}

func runExport(ctx context.Context, a *app, args []string, out io.Writer) error {
	f, err := os.Create(args[1])
	if err != nil {
		return err
	}

	if err := a.store.Export(ctx, args[0], f, a.excl); err != nil {
		f.Close()
		os.Remove(args[1])
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "📦 шаблон %s упакован в %s\n", args[0], filepath.Clean(args[1]))
	return nil
}

func runImport(ctx context.Context, a *app, args []string, out io.Writer) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := a.store.Import(ctx, f, args[1], a.excl); err != nil {
		return err
	}
	fmt.Fprintf(out, "📦 шаблон %s распакован из %s\n", args[1], args[0])
	return nil
}

func runServe(ctx context.Context, a *app, _ []string, out io.Writer) error {
	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv, err := observability.StartMetricsServer(addr, a.metrics)
		if err != nil {
			return err
		}
		defer srv.Shutdown(context.Background())
	}

	if addr := a.cfg.API.GetAddr(); addr != "" {
		tokens, err := a.tokenManager()
		if err != nil && !errors.Is(err, errNoSecret) {
			return err
		}
		rs, err := api.NewRestServer(api.Config{
			Addr:         addr,
			Orchestrator: a.orch,
			Store:        a.store,
			Registry:     a.registry,
			Tokens:       tokens,
			Exclusions:   a.excl,
			Registerer:   a.metrics,
			Gatherer:     a.metrics,
		})
		if err != nil {
			return err
		}
		if err := rs.Start(); err != nil {
			return err
		}
		defer rs.Stop(context.Background())
		fmt.Fprintf(out, "🌐 REST API: http://%s/api\n", rs.Addr())
	}

	fmt.Fprintf(out, "🎮 главный поток запущен (тик %s), миров: %d\n", a.main.Interval(), len(a.runtime.Worlds()))
	<-ctx.Done()
	fmt.Fprintln(out, "👋 остановка")
	return nil
}

func runToken(_ context.Context, a *app, args []string, out io.Writer) error {
	tokens, err := a.tokenManager()
	if err != nil {
		return err
	}
	isAdmin := len(args) > 1 && args[1] == "admin"
	token, err := tokens.Generate(args[0], isAdmin)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
