// Package report summarizes how merged spans distribute over documents,
// questions and logic types.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qrels-cli/internal/model"
)

// QuestionStats describes the spans of one question within one document.
type QuestionStats struct {
	QuestionID string
	Spans      int
	// Logic is the logic tag of the question's first span.
	Logic model.Logic
}

// DocumentStats groups the questions anchored in one document.
type DocumentStats struct {
	DocumentID string
	Questions  []QuestionStats
	Spans      int
}

// Distribution is the full breakdown over a span list.
type Distribution struct {
	Documents []DocumentStats
	Questions int
	Spans     int
	ByLogic   map[model.Logic]int
	// Agreed counts spans whose provenance holds more than one source.
	Agreed int
	// BySource counts spans per contributing source.
	BySource map[string]int
}

// Build computes the distribution of spans. sep splits merged provenance.
func Build(spans []model.Span, sep string) *Distribution {
	d := &Distribution{
		ByLogic:  make(map[model.Logic]int),
		BySource: make(map[string]int),
	}

	type docQ struct{ doc, qid string }
	perQ := make(map[docQ]*QuestionStats)
	perDoc := make(map[string]*DocumentStats)
	qids := make(map[string]struct{})

	for _, s := range spans {
		d.Spans++
		d.ByLogic[s.Logic]++
		sources := s.Sources(sep)
		if len(sources) > 1 {
			d.Agreed++
		}
		for _, src := range sources {
			if src != "" {
				d.BySource[src]++
			}
		}

		ds, ok := perDoc[s.DocumentID]
		if !ok {
			ds = &DocumentStats{DocumentID: s.DocumentID}
			perDoc[s.DocumentID] = ds
		}
		ds.Spans++

		k := docQ{s.DocumentID, s.QuestionID}
		qs, ok := perQ[k]
		if !ok {
			qs = &QuestionStats{QuestionID: s.QuestionID, Logic: s.Logic}
			perQ[k] = qs
		}
		qs.Spans++
		qids[s.QuestionID] = struct{}{}
	}
	d.Questions = len(qids)

	for k, qs := range perQ {
		perDoc[k.doc].Questions = append(perDoc[k.doc].Questions, *qs)
	}
	for _, ds := range perDoc {
		sort.Slice(ds.Questions, func(i, j int) bool { return ds.Questions[i].QuestionID < ds.Questions[j].QuestionID })
		d.Documents = append(d.Documents, *ds)
	}
	sort.Slice(d.Documents, func(i, j int) bool { return d.Documents[i].DocumentID < d.Documents[j].DocumentID })
	return d
}

// Markdown renders the distribution.
func (d *Distribution) Markdown() string {
	var b strings.Builder

	b.WriteString("# Output Distribution Analysis\n\n")

	for _, ds := range d.Documents {
		fmt.Fprintf(&b, "## Document `%s`\n", ds.DocumentID)
		fmt.Fprintf(&b, "- **Total questions:** %d\n\n", len(ds.Questions))
		for _, q := range ds.Questions {
			fmt.Fprintf(&b, "### QID: `%s`\n", q.QuestionID)
			fmt.Fprintf(&b, "- **# spans:** %d\n", q.Spans)
			fmt.Fprintf(&b, "- **Logic type:** %s\n\n", q.Logic)
		}
		fmt.Fprintf(&b, "**Total spans in %s:** %d\n\n", ds.DocumentID, ds.Spans)
	}

	b.WriteString("---\n")
	b.WriteString("## Overall Summary\n")
	fmt.Fprintf(&b, "- **Documents:** %d\n", len(d.Documents))
	fmt.Fprintf(&b, "- **Questions with spans:** %d\n", d.Questions)
	fmt.Fprintf(&b, "- **Total spans:** %d\n", d.Spans)
	fmt.Fprintf(&b, "- **Spans agreed by multiple sources:** %d\n\n", d.Agreed)

	b.WriteString("### Spans by logic type\n")
	for _, l := range model.Logics {
		fmt.Fprintf(&b, "- **%s**: %d\n", l, d.ByLogic[l])
	}
	b.WriteString("\n")

	if len(d.BySource) > 0 {
		b.WriteString("### Spans by source\n")
		sources := make([]string, 0, len(d.BySource))
		for s := range d.BySource {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		for _, s := range sources {
			fmt.Fprintf(&b, "- **%s**: %d\n", s, d.BySource[s])
		}
		b.WriteString("\n")
	}

	return b.String()
}

// WriteFile writes the markdown report to path.
func (d *Distribution) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	if err := os.WriteFile(path, []byte(d.Markdown()), 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

// DefaultPath returns output_distribution.md inside dir.
func DefaultPath(dir string) string {
	return filepath.Join(dir, "output_distribution.md")
}
