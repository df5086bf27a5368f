package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-yaml"

	"github.com/tomyedwab/enginebridge/bridge/backend"
	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/host"
	"github.com/tomyedwab/enginebridge/bridge/types"
	"github.com/tomyedwab/enginebridge/bridge/wasm"
	"github.com/tomyedwab/enginebridge/config"
)

type output struct {
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Rows    [][]any  `json:"rows,omitempty" yaml:"rows,omitempty"`
	Result  any      `json:"result,omitempty" yaml:"result,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	collection := flag.String("collection", "", "Collection path (overrides config)")
	mode := flag.String("mode", "query", "One of: query, row, scalar, exec, columns, stream, info, language")
	format := flag.String("format", "json", "Output format: json or yaml")
	downgrade := flag.Bool("downgrade", false, "Downgrade the collection schema on close")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
	if *collection != "" {
		cfg.CollectionPath = *collection
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *mode, *format, *downgrade, flag.Args()); err != nil {
		logger.Error("bridgectl failed", "error", err)
		os.Exit(1)
	}
}

func newEngine(cfg config.Config, logger *slog.Logger) (engine.Engine, error) {
	switch cfg.Engine {
	case config.EngineWasm:
		module, err := os.ReadFile(cfg.WasmPath)
		if err != nil {
			return nil, fmt.Errorf("read wasm module: %w", err)
		}
		return wasm.New(wasm.Config{Module: module, Logger: logger, Stdout: os.Stderr, Stderr: os.Stderr}), nil
	default:
		return host.New(host.Config{Logger: logger})
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, mode, format string, downgrade bool, args []string) (err error) {
	eng, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	if w, ok := eng.(*wasm.Engine); ok {
		defer w.Shutdown()
	}

	session := backend.New(eng, backend.Config{Logger: logger, PageSize: cfg.PageSize})
	if err := session.Open(ctx, cfg.Languages); err != nil {
		return err
	}
	defer session.Close(context.Background())

	if err := session.OpenCollection(ctx, types.OpenCollectionRequest{
		Path:         cfg.CollectionPath,
		MediaFolder:  cfg.MediaFolder,
		MediaDB:      cfg.MediaDB,
		LegacySchema: cfg.LegacySchema,
	}); err != nil {
		return err
	}
	defer func() {
		if cerr := session.CloseCollection(context.Background(), downgrade); cerr != nil && err == nil {
			err = cerr
		}
	}()

	out, err := execute(ctx, session, mode, args)
	if err != nil {
		return err
	}
	return write(os.Stdout, format, out)
}

func execute(ctx context.Context, s *backend.Session, mode string, args []string) (*output, error) {
	switch mode {
	case "info":
		info, err := s.CollectionInfo(ctx)
		return &output{Result: info}, err
	case "language":
		lang, err := s.CurrentLanguage(ctx)
		return &output{Result: lang}, err
	}

	if len(args) == 0 {
		return nil, errors.New("usage: bridgectl [flags] SQL [ARGS...]")
	}
	sql := args[0]
	params := make([]any, len(args)-1)
	for i, a := range args[1:] {
		params[i] = a
	}

	switch mode {
	case "query":
		set, err := s.Query(ctx, sql, params...)
		if err != nil {
			return nil, err
		}
		return &output{Columns: set.Columns, Rows: set.Rows}, nil
	case "row":
		row, err := s.QueryRow(ctx, sql, params...)
		if err != nil {
			return nil, err
		}
		return &output{Rows: [][]any{row}}, nil
	case "scalar":
		v, err := s.Scalar(ctx, sql, params...)
		return &output{Result: v}, err
	case "exec":
		res, err := s.Exec(ctx, sql, params...)
		return &output{Result: map[string]int64{"rows_affected": res.RowsAffected, "last_insert_id": res.LastInsertID}}, err
	case "columns":
		cols, err := s.ColumnNames(ctx, sql, params...)
		return &output{Columns: cols}, err
	case "stream":
		return stream(ctx, s, sql, params)
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

func stream(ctx context.Context, s *backend.Session, sql string, params []any) (*output, error) {
	st, err := s.Stream(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	defer st.Close(context.Background())

	out := &output{Columns: st.Columns()}
	for {
		rows, err := st.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		slog.Debug("Received slice", "sequence", st.Sequence(), "rows", len(rows))
		out.Rows = append(out.Rows, rows...)
	}
}

func write(w io.Writer, format string, out *output) error {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return fmt.Errorf("unknown format %q", format)
}
