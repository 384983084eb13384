//go:build docs

package main

import (
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/maxgio92/stackprof/internal/settings"
	"github.com/maxgio92/stackprof/pkg/cmd"
)

const (
	docsDir        = "docs"
	manDir         = "docs/man"
	readmeTemplate = "README.md.tpl"
	readmeFile     = "README.md"
	templateMarker = "{{ .CLI_REFERENCE }}"
)

func linkHandler(filename string) string {
	if filename == settings.CmdName+".md" {
		return readmeFile
	}
	return path.Join(docsDir, filename)
}

func main() {
	logger := log.New(log.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := cmd.NewCommand(cmd.NewOptions(cmd.WithLogger(logger)))

	if err := generate(root); err != nil {
		logger.Fatal().Err(err).Msg("failed to generate docs")
	}
}

func generate(root *cobra.Command) error {
	if err := doc.GenMarkdownTreeCustom(root, docsDir, func(string) string { return "" }, linkHandler); err != nil {
		return errors.Wrap(err, "failed to generate markdown reference")
	}

	if err := os.MkdirAll(manDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create man directory")
	}
	header := &doc.GenManHeader{Title: strings.ToUpper(settings.CmdName), Section: "8"}
	if err := doc.GenManTree(root, header, manDir); err != nil {
		return errors.Wrap(err, "failed to generate man pages")
	}

	tpl, err := os.ReadFile(readmeTemplate)
	if err != nil {
		return errors.Wrap(err, "failed to read README template")
	}
	reference, err := os.ReadFile(path.Join(docsDir, settings.CmdName+".md"))
	if err != nil {
		return errors.Wrap(err, "failed to read CLI reference")
	}

	readme := strings.Replace(string(tpl), templateMarker, string(reference), 1)

	return errors.Wrap(os.WriteFile(readmeFile, []byte(readme), 0o644), "failed to write README")
}
