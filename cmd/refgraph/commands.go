package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/rawbytedev/refgraph"
	"github.com/rawbytedev/refgraph/pkg/frame"
	"github.com/rawbytedev/refgraph/pkg/wire"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// payload reads path and strips a frame when the data carries one.
func (a *app) payload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := frame.ReadHeader(data); err != nil {
		return data, nil
	}
	body, h, err := frame.Decode(data, 0)
	if err != nil {
		return nil, err
	}
	a.log.Debug("unframed input",
		zap.String("path", path),
		zap.Stringer("compression", h.Compression),
		zap.Uint64("schema", h.SchemaID),
	)
	return body, nil
}

func (a *app) rawCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "raw <file>",
		Short: "Print the field tree of a payload",
		Long: `Decode a payload without its schema. Length-delimited fields that parse
as messages are expanded; others print as strings or bytes.

Output formats: text (default), yaml, cbor.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.payload(args[0])
			if err != nil {
				return err
			}
			fields, ierr := wire.Inspect(data)
			if err := writeFields(cmd.OutOrStdout(), output, fields); err != nil {
				return err
			}
			if ierr != nil {
				return fmt.Errorf("payload is malformed after %d fields: %w", len(fields), ierr)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, yaml, cbor)")
	return cmd
}

func writeFields(w io.Writer, format string, fields []wire.Field) error {
	switch strings.ToLower(format) {
	case "text":
		printFields(w, fields, 0)
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(fields); err != nil {
			return err
		}
		return enc.Close()
	case "cbor":
		data, err := cbor.Marshal(fields)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	return fmt.Errorf("unknown output format %q", format)
}

func printFields(w io.Writer, fields []wire.Field, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range fields {
		if len(f.Fields) > 0 {
			fmt.Fprintf(w, "%s%d: %s @%d {\n", indent, f.Number, f.WireType, f.Offset)
			printFields(w, f.Fields, depth+1)
			fmt.Fprintf(w, "%s}\n", indent)
			continue
		}
		switch v := f.Value.(type) {
		case string:
			fmt.Fprintf(w, "%s%d: %s @%d %q\n", indent, f.Number, f.WireType, f.Offset, v)
		case []byte:
			fmt.Fprintf(w, "%s%d: %s @%d %x\n", indent, f.Number, f.WireType, f.Offset, v)
		default:
			fmt.Fprintf(w, "%s%d: %s @%d %v\n", indent, f.Number, f.WireType, f.Offset, v)
		}
	}
}

func (a *app) frameCommand() *cobra.Command {
	var schema uint64
	cmd := &cobra.Command{
		Use:   "frame <in> <out>",
		Short: "Wrap a payload in a checksummed frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			comp, err := a.cfg.FrameCompression()
			if err != nil {
				return err
			}
			out, err := frame.Encode(data, frame.Options{Compression: comp, SchemaID: schema})
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], out, 0o644); err != nil {
				return err
			}
			h, err := frame.ReadHeader(out)
			if err != nil {
				return err
			}
			a.log.Info("framed payload",
				zap.String("out", args[1]),
				zap.Stringer("compression", h.Compression),
				zap.Int("raw", len(data)),
				zap.Int("framed", len(out)),
			)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&schema, "schema-id", 0, "Schema id stamped into the frame (0 for none)")
	return cmd
}

func (a *app) unframeCommand() *cobra.Command {
	var expect uint64
	cmd := &cobra.Command{
		Use:   "unframe <in> <out>",
		Short: "Check a frame and write its payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if !a.cfg.SchemaCheck {
				expect = 0
			}
			body, h, err := frame.Decode(data, expect)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], body, 0o644); err != nil {
				return err
			}
			a.log.Info("unframed payload",
				zap.String("out", args[1]),
				zap.Stringer("compression", h.Compression),
				zap.Uint64("schema", h.SchemaID),
				zap.Int("size", len(body)),
			)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&expect, "expect-schema", 0, "Fail unless the frame carries this schema id")
	return cmd
}

func (a *app) positionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "positions <file>",
		Short: "Print the key positions of a seekable late-reference payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.payload(args[0])
			if err != nil {
				return err
			}
			pos, err := refgraph.ReadPositions(data)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "key\toffset")
			for k, p := range pos {
				fmt.Fprintf(w, "%d\t%d\n", k, p)
			}
			return nil
		},
	}
}
