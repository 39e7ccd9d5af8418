package core

// normalizer.go turns uploaded sheets into typed per-table records.
//
// Each sheet is classified by its header signature against a fixed table of
// expected header sets (see tables/telemetry.go). The deepest table in the
// ingestion lineage whose signature is fully present wins, so a wide sheet
// carrying temperature, preset, camera and zone columns is a temperature
// sheet whose extra columns feed ancestor synthesis.

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Sheet is one named block of header + row data within a payload.
type Sheet struct {
	Name      string   `json:"sheet_name"`
	Headers   []string `json:"headers"`
	Rows      [][]any  `json:"data"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// Batch is an upload or update payload.
type Batch struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	Sheets   []Sheet `json:"sheets"`
}

// Mode distinguishes upload from update payloads. Both take the same path.
type Mode string

const (
	ModeUpload Mode = "upload"
	ModeUpdate Mode = "update"
)

// Record is one normalized data row. Values holds every recognised column of
// the row, not only those of Table; ancestor columns feed parent synthesis.
type Record struct {
	Table  TableID
	Sheet  string
	Row    int // spreadsheet row number (header is row 1)
	Values Row
}

// SheetSummary describes how a sheet was classified.
type SheetSummary struct {
	Name    string   `json:"sheet_name"`
	Table   TableID  `json:"table"`
	Rows    int      `json:"rows"`
	Skipped int      `json:"skipped"`
	Ignored []string `json:"ignored_headers,omitempty"`
}

// Normalized is the normalizer output: records grouped by table, each list
// in sheet then row order.
type Normalized struct {
	Records map[TableID][]Record
	Sheets  []SheetSummary
}

// Rows returns the number of records produced.
func (n *Normalized) Rows() int {
	total := 0
	for _, s := range n.Sheets {
		total += s.Rows
	}
	return total
}

// Skipped returns the number of rows dropped by the skip keyword.
func (n *Normalized) Skipped() int {
	total := 0
	for _, s := range n.Sheets {
		total += s.Skipped
	}
	return total
}

type column struct {
	name string
	spec FieldSpec
}

// Signature maps a header set to the table it identifies.
type Signature struct {
	Table    TableID  `json:"table"`
	Rank     int      `json:"rank"`
	Required []string `json:"required"`
}

// Normalizer classifies sheets and converts rows. It is safe for concurrent use.
type Normalizer struct {
	skipKeyword string
	vocab       map[string]column
	signatures  []Signature
	defs        map[TableID]TableDefinition
}

// NewNormalizer builds a normalizer from the registered ingestible tables.
// Rows whose description contains skipKeyword (case-insensitive) are
// dropped; an empty keyword disables skipping.
func NewNormalizer(skipKeyword string) *Normalizer {
	n := &Normalizer{
		skipKeyword: strings.ToLower(strings.TrimSpace(skipKeyword)),
		vocab:       make(map[string]column),
		defs:        make(map[TableID]TableDefinition),
	}

	for _, def := range IngestOrder() {
		n.defs[def.Info.Key] = def
		for _, f := range def.FieldSpecs {
			if _, ok := n.vocab[f.Name]; !ok {
				n.vocab[f.Name] = column{name: f.Name, spec: f}
			}
			for _, a := range f.Aliases {
				if _, ok := n.vocab[a]; !ok {
					n.vocab[a] = column{name: f.Name, spec: f}
				}
			}
		}
		for _, sig := range def.Signatures {
			n.signatures = append(n.signatures, Signature{
				Table:    def.Info.Key,
				Rank:     def.Info.Rank,
				Required: sig,
			})
		}
	}

	sort.SliceStable(n.signatures, func(i, j int) bool {
		return n.signatures[i].Rank > n.signatures[j].Rank
	})
	return n
}

// Signatures returns the classification table, most specific first.
func (n *Normalizer) Signatures() []Signature {
	return append([]Signature(nil), n.signatures...)
}

// NormalizeHeader canonicalizes a header: lower case, separators collapsed
// to "_", trailing parenthesised qualifiers dropped ("DESCRIPTION(V1)").
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(sanitizeUTF8(h), "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.Index(h, "("); i > 0 {
		h = h[:i]
	}
	fields := strings.FieldsFunc(h, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_' || r == '.' || r == '/'
	})
	return strings.Join(fields, "_")
}

// Normalize converts every sheet of a batch. It has no side effects.
func (n *Normalizer) Normalize(b Batch) (*Normalized, error) {
	out := &Normalized{Records: make(map[TableID][]Record)}
	for _, s := range b.Sheets {
		records, summary, err := n.NormalizeSheet(s)
		if err != nil {
			return nil, err
		}
		out.Sheets = append(out.Sheets, summary)
		for _, r := range records {
			out.Records[r.Table] = append(out.Records[r.Table], r)
		}
	}
	return out, nil
}

// Classify maps a header row to its table.
func (n *Normalizer) Classify(headers []string) (TableID, error) {
	cols, _, err := n.mapHeaders("", headers)
	if err != nil {
		return "", err
	}
	return n.classify("", headers, cols)
}

func (n *Normalizer) classify(sheet string, headers []string, cols []string) (TableID, error) {
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		if c != "" {
			present[c] = true
		}
	}

	for _, sig := range n.signatures {
		ok := true
		for _, req := range sig.Required {
			if !present[req] {
				ok = false
				break
			}
		}
		if ok {
			return sig.Table, nil
		}
	}

	return "", &Error{
		Kind:  KindSchemaMismatch,
		Sheet: sheet,
		Msg:   fmt.Sprintf("headers [%s] do not match any known table", strings.Join(headers, ", ")),
	}
}

// mapHeaders resolves each header position to a column name ("" = ignored).
func (n *Normalizer) mapHeaders(sheet string, headers []string) ([]string, []string, error) {
	cols := make([]string, len(headers))
	seen := make(map[string]int, len(headers))
	var ignored []string

	for i, h := range headers {
		c, ok := n.vocab[NormalizeHeader(h)]
		if !ok {
			ignored = append(ignored, h)
			continue
		}
		if j, dup := seen[c.name]; dup {
			return nil, nil, &Error{
				Kind:  KindSchemaMismatch,
				Sheet: sheet,
				Field: c.name,
				Msg:   fmt.Sprintf("headers %q and %q both map to %s", headers[j], h, c.name),
			}
		}
		seen[c.name] = i
		cols[i] = c.name
	}
	return cols, ignored, nil
}

// NormalizeSheet classifies one sheet and converts its rows.
func (n *Normalizer) NormalizeSheet(s Sheet) ([]Record, SheetSummary, error) {
	summary := SheetSummary{Name: s.Name}

	if len(s.Headers) == 0 {
		return nil, summary, &Error{Kind: KindSchemaMismatch, Sheet: s.Name, Msg: "sheet has no headers"}
	}

	cols, ignored, err := n.mapHeaders(s.Name, s.Headers)
	if err != nil {
		return nil, summary, err
	}
	summary.Ignored = ignored

	table, err := n.classify(s.Name, s.Headers, cols)
	if err != nil {
		return nil, summary, err
	}
	summary.Table = table
	lineage := n.lineage(table)

	var records []Record
	for i, raw := range s.Rows {
		line := i + 2

		if len(raw) != len(s.Headers) {
			return nil, summary, &Error{
				Kind:  KindRowShape,
				Table: table,
				Sheet: s.Name,
				Row:   line,
				Msg:   fmt.Sprintf("row has %d cells, header has %d", len(raw), len(s.Headers)),
			}
		}
		if isBlankRow(raw) {
			continue
		}

		values := make(Row, len(cols))
		for j, cell := range raw {
			name := cols[j]
			if name == "" {
				continue
			}
			spec := n.vocab[name].spec
			v, err := ConvertCell(cell, spec.Type)
			if err == nil {
				err = CheckLength(v, spec)
			}
			if err != nil {
				return nil, summary, &Error{
					Kind:  KindInvalidValue,
					Table: table,
					Sheet: s.Name,
					Row:   line,
					Field: name,
					Msg:   err.Error(),
				}
			}
			values[name] = v
		}

		if n.skip(values) {
			summary.Skipped++
			continue
		}

		rowTable, ok := n.rowTable(lineage, values)
		if !ok {
			def := n.defs[table]
			return nil, summary, &Error{
				Kind:  KindInvalidValue,
				Table: table,
				Sheet: s.Name,
				Row:   line,
				Field: strings.Join(def.KeyColumns(), ", "),
				Msg:   "row has no key value for any table",
			}
		}

		records = append(records, Record{Table: rowTable, Sheet: s.Name, Row: line, Values: values})
		summary.Rows++
	}

	return records, summary, nil
}

// lineage returns table followed by its ancestors.
func (n *Normalizer) lineage(table TableID) []TableDefinition {
	var chain []TableDefinition
	for t := table; t != ""; {
		def, ok := n.defs[t]
		if !ok {
			break
		}
		chain = append(chain, def)
		t = def.Parent
	}
	return chain
}

// rowTable picks the deepest lineage table the row identifies.
func (n *Normalizer) rowTable(lineage []TableDefinition, values Row) (TableID, bool) {
	for _, def := range lineage {
		if _, ok := def.KeyOf(values); ok {
			return def.Info.Key, true
		}
		if def.NameColumn != "" && values[def.NameColumn] != nil {
			return def.Info.Key, true
		}
	}
	return "", false
}

func (n *Normalizer) skip(values Row) bool {
	if n.skipKeyword == "" {
		return false
	}
	desc, ok := values["description"].(string)
	return ok && strings.Contains(strings.ToLower(desc), n.skipKeyword)
}

func isBlankRow(row []any) bool {
	for _, cell := range row {
		switch v := cell.(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}
