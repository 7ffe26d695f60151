package command

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/tendant/simple-tokens/pkg/domain"
)

// Format represents the output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// tokenView is the printable form of a token.
type tokenView struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Value     string         `json:"value" yaml:"value"`
	OwnerType string         `json:"owner_type" yaml:"owner_type"`
	OwnerID   string         `json:"owner_id" yaml:"owner_id"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Valid     bool           `json:"valid" yaml:"valid"`
	Data      map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}

func newTokenView(t *domain.Token, now time.Time, logger *slog.Logger) tokenView {
	v := tokenView{
		ID:        t.ID.String(),
		Name:      t.Name,
		Value:     t.Value,
		OwnerType: t.OwnerType,
		OwnerID:   t.OwnerID,
		ExpiresAt: t.ExpiresAt,
		Valid:     t.IsValid(now),
		CreatedAt: t.CreatedAt,
	}
	if err := t.DecodeData(&v.Data); err != nil {
		// Payloads that are not a YAML mapping are left out.
		v.Data = nil
		logger.Debug("token data is not a YAML mapping",
			"token_id", v.ID,
			"error", err)
	}
	return v
}

type countView struct {
	Deleted int64 `json:"deleted" yaml:"deleted"`
}

type migrateView struct {
	Applied []string `json:"applied" yaml:"applied"`
}

// printer writes command results in the selected format.
type printer struct {
	w      io.Writer
	format Format
}

func newPrinter(c *cli.Context) (*printer, error) {
	format := Format(c.String("output"))
	switch format {
	case FormatJSON, FormatYAML, FormatTable:
	case "":
		format = FormatJSON
	default:
		return nil, cli.Exit(fmt.Sprintf("unknown output format %q", format), 1)
	}
	return &printer{w: c.App.Writer, format: format}, nil
}

func (p *printer) print(data any) error {
	switch p.format {
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return p.table(data)
	default:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
}

func (p *printer) table(data any) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)

	switch v := data.(type) {
	case tokenView:
		expires := "never"
		if v.ExpiresAt != nil {
			expires = v.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintln(tw, "NAME\tVALUE\tOWNER\tEXPIRES\tVALID")
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%t\n", v.Name, v.Value, v.OwnerType, v.OwnerID, expires, v.Valid)
	case domain.OwnerRef:
		fmt.Fprintln(tw, "TYPE\tID")
		fmt.Fprintf(tw, "%s\t%s\n", v.Type, v.ID)
	case countView:
		fmt.Fprintf(tw, "deleted %d token(s)\n", v.Deleted)
	case migrateView:
		if len(v.Applied) == 0 {
			fmt.Fprintln(tw, "schema is up to date")
		}
		for _, name := range v.Applied {
			fmt.Fprintf(tw, "applied %s\n", name)
		}
	default:
		fmt.Fprintf(tw, "%v\n", v)
	}

	return tw.Flush()
}
