// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/bureau-foundation/acquire/lib/digest"
	"github.com/bureau-foundation/acquire/lib/manifest"
)

// timestampLayout renders the UTC instants stored in the manifest. The
// literal suffix makes the zone explicit to readers.
const timestampLayout = "2006-01-02 15:04:05 UTC"

// Text renders the acquisition summary as GitHub-flavored markdown.
// generatedAt stamps the report itself, independent of the session
// timestamps recorded in the manifest.
func Text(m *manifest.Manifest, generatedAt time.Time) string {
	var b strings.Builder

	b.WriteString("# Acquisition Report\n\n")
	fmt.Fprintf(&b, "Generated %s for run %s.\n\n",
		generatedAt.UTC().Format(timestampLayout), m.RunID)

	b.WriteString("## Device\n\n")
	fmt.Fprintf(&b, "- Identifier: %s\n", m.Device.UDID)
	if m.Device.Name != "" {
		fmt.Fprintf(&b, "- Name: %s\n", m.Device.Name)
	}
	if m.Device.ProductVersion != "" {
		fmt.Fprintf(&b, "- Product version: %s\n", m.Device.ProductVersion)
	}

	b.WriteString("\n## Session\n\n")
	fmt.Fprintf(&b, "- Started: %s\n", m.StartedAt.UTC().Format(timestampLayout))
	fmt.Fprintf(&b, "- Finished: %s\n", m.FinishedAt.UTC().Format(timestampLayout))
	fmt.Fprintf(&b, "- Duration: %s\n", m.FinishedAt.Sub(m.StartedAt).Round(time.Second))

	b.WriteString("\n## Artifacts\n\n")
	b.WriteString("| Artifact | Status | Path | Size | Notes |\n")
	b.WriteString("|----------|--------|------|------|-------|\n")
	for i := range m.Artifacts {
		artifact := &m.Artifacts[i]
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			cell(artifact.Name), cell(string(artifact.Status)),
			cell(artifact.Path), sizeText(artifact), cell(notes(artifact)))
	}

	if m.Seal != nil {
		b.WriteString("\n## Sealing\n\n")
		fmt.Fprintf(&b, "- Algorithm: %s\n", m.Seal.Algorithm)
		fmt.Fprintf(&b, "- Key source: %s\n", m.Seal.KeySource)
		if m.Seal.Derivation != "" {
			fmt.Fprintf(&b, "- Key derivation label: %s\n", m.Seal.Derivation)
		}
		if m.Seal.EscrowPath != "" {
			fmt.Fprintf(&b, "- Key escrow: %s\n", m.Seal.EscrowPath)
		}
	}

	b.WriteString("\n## Outputs\n\n")
	produced := 0
	for i := range m.Artifacts {
		artifact := &m.Artifacts[i]
		if artifact.Status != manifest.StatusProduced {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", artifact.Name, artifact.Path)
		produced++
	}
	if produced == 0 {
		b.WriteString("No artifacts were produced.\n")
	}

	return b.String()
}

// notes summarizes the fate of one artifact for the outcome table:
// the skip reason for artifacts that never materialized, otherwise the
// data-quality and integrity facts a reviewer checks first. A produced
// artifact can carry a reason too, when it exists in a degraded form
// such as a plaintext export retained after a sealing failure.
func notes(artifact *manifest.Artifact) string {
	if artifact.Status == manifest.StatusSkipped {
		return artifact.Reason
	}
	var parts []string
	if artifact.Reason != "" {
		parts = append(parts, artifact.Reason)
	}
	if artifact.SkippedRecords > 0 {
		parts = append(parts, fmt.Sprintf("%d source records skipped", artifact.SkippedRecords))
	}
	if artifact.Digest != nil {
		parts = append(parts, "blake3 "+digest.Format(*artifact.Digest))
	}
	return strings.Join(parts, "; ")
}

func sizeText(artifact *manifest.Artifact) string {
	if artifact.Status != manifest.StatusProduced {
		return ""
	}
	if artifact.Size < 1<<10 {
		return fmt.Sprintf("%d bytes", artifact.Size)
	}
	return fmt.Sprintf("%s (%d bytes)", formatSize(artifact.Size), artifact.Size)
}

func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	default:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	}
}

// cell neutralizes characters that would break a markdown table row.
// Skip reasons are wrapped error strings and can contain anything.
var cellEscaper = strings.NewReplacer("|", "\\|", "\n", " ")

func cell(s string) string {
	return cellEscaper.Replace(s)
}

const htmlHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Acquisition Report</title>
<style>
body { font-family: Arial, sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f2f2f2; }
</style>
</head>
<body>
`

const htmlFooter = "</body>\n</html>\n"

var (
	converterOnce sync.Once
	converter     goldmark.Markdown
)

func markdownConverter() goldmark.Markdown {
	converterOnce.Do(func() {
		converter = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return converter
}

// HTML renders the markdown report as a standalone HTML document. The
// GFM extension is required for the outcome table.
func HTML(m *manifest.Manifest, generatedAt time.Time) ([]byte, error) {
	var body bytes.Buffer
	if err := markdownConverter().Convert([]byte(Text(m, generatedAt)), &body); err != nil {
		return nil, fmt.Errorf("report: rendering markdown: %w", err)
	}
	var doc bytes.Buffer
	doc.Grow(len(htmlHeader) + body.Len() + len(htmlFooter))
	doc.WriteString(htmlHeader)
	doc.Write(body.Bytes())
	doc.WriteString(htmlFooter)
	return doc.Bytes(), nil
}
