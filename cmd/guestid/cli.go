package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/guestid/internal/config"
	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/usecase/extract"
)

const defaultCLIOrg = "cli"

func runExtract(cfg config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	file := fs.String("file", "", "path to the document image (required)")
	typ := fs.String("type", string(doctype.Unknown), "declared document type; unknown runs detection first")
	org := fs.String("org", defaultCLIOrg, "organization ID charged for model calls")
	if err := fs.Parse(args); err != nil {
		return err
	}

	img, err := readImage(*file)
	if err != nil {
		return err
	}

	dt, err := parseDocType(*typ)
	if err != nil {
		return err
	}

	a, err := buildApp(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.store.Close()

	res := a.extractor.Extract(context.Background(), extract.Request{
		Image:          img,
		DocumentType:   dt,
		OrganizationID: *org,
	})
	if err := printJSON(os.Stdout, res); err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

func runDetect(cfg config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	file := fs.String("file", "", "path to the document image (required)")
	org := fs.String("org", defaultCLIOrg, "organization ID charged for model calls")
	if err := fs.Parse(args); err != nil {
		return err
	}

	img, err := readImage(*file)
	if err != nil {
		return err
	}

	a, err := buildApp(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.store.Close()

	return printJSON(os.Stdout, a.detector.Detect(context.Background(), img, *org))
}

// parseDocType rejects typos instead of silently falling back to detection.
func parseDocType(s string) (doctype.Type, error) {
	dt := doctype.Parse(s)
	if dt == doctype.Unknown && s != "" && !strings.EqualFold(strings.TrimSpace(s), string(doctype.Unknown)) {
		names := make([]string, 0, len(doctype.All()))
		for _, t := range doctype.All() {
			names = append(names, string(t))
		}
		return "", fmt.Errorf("unknown document type %q, expected one of: %s", s, strings.Join(names, ", "))
	}
	return dt, nil
}

// readImage loads a file and sniffs its MIME type from content.
func readImage(path string) (domain.Image, error) {
	if path == "" {
		return domain.Image{}, errors.New("-file is required")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return domain.Image{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return domain.Image{}, fmt.Errorf("read image: %s is empty", path)
	}
	return domain.Image{Data: data, MIMEType: http.DetectContentType(data)}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
