// Package rule parses the data preparation rule language.
//
// A rule string is a verb followed by whitespace separated `key: value`
// clauses:
//
//	header rownum: 1
//	rename col: _c0 to: new_colname
//	replace col: Population_, Total_Crime on: '_' with: '' global: true ignoreCase: false
//	settype col: Population_ type: long
//	keep row: Location = 'LA' && Population_ > 1000
//
// Parsing never consults a dataset. Column existence and type checks happen
// when the rule is planned or executed.
package rule

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
)

// Verb names a rule kind.
type Verb string

const (
	VerbHeader  Verb = "header"
	VerbRename  Verb = "rename"
	VerbReplace Verb = "replace"
	VerbSetType Verb = "settype"
	VerbKeep    Verb = "keep"
)

// Rule is one parsed transformation step. The set of implementations is
// closed; consumers dispatch through Accept.
type Rule interface {
	Verb() Verb
	// Columns returns the column names the rule reads, in listed order.
	Columns() []string
	// Accept calls the Visitor method matching the rule kind.
	Accept(v Visitor) error
	// String renders the canonical rule text. Parsing it yields an equal rule.
	String() string
}

// Visitor has one method per rule kind. Adding a verb adds a method here,
// so every consumer fails to compile until it handles the new kind.
type Visitor interface {
	VisitHeader(r *Header) error
	VisitRename(r *Rename) error
	VisitReplace(r *Replace) error
	VisitSetType(r *SetType) error
	VisitKeep(r *Keep) error
}

// Header promotes the 1-based row RowNum to column names and drops it and
// every row above it.
type Header struct {
	RowNum int
}

func (r *Header) Verb() Verb             { return VerbHeader }
func (r *Header) Columns() []string      { return nil }
func (r *Header) Accept(v Visitor) error { return v.VisitHeader(r) }

func (r *Header) String() string {
	return "header rownum: " + strconv.Itoa(r.RowNum)
}

// Rename renames Column to To. An empty To leaves the dataset unchanged.
type Rename struct {
	Column string
	To     string
}

func (r *Rename) Verb() Verb             { return VerbRename }
func (r *Rename) Columns() []string      { return []string{r.Column} }
func (r *Rename) Accept(v Visitor) error { return v.VisitRename(r) }

func (r *Rename) String() string {
	s := "rename col: " + quoteIdent(r.Column)
	if r.To != "" {
		s += " to: " + quoteIdent(r.To)
	}
	return s
}

// Replace substitutes On with With in every listed column. An empty On
// leaves the dataset unchanged.
type Replace struct {
	Cols       []string
	On         string
	With       string
	Global     bool
	IgnoreCase bool
}

func (r *Replace) Verb() Verb             { return VerbReplace }
func (r *Replace) Columns() []string      { return r.Cols }
func (r *Replace) Accept(v Visitor) error { return v.VisitReplace(r) }

func (r *Replace) String() string {
	var b strings.Builder
	b.WriteString("replace col: ")
	b.WriteString(joinIdents(r.Cols))
	if r.On != "" {
		b.WriteString(" on: ")
		b.WriteString(quoteLiteral(r.On))
	}
	b.WriteString(" with: ")
	b.WriteString(quoteLiteral(r.With))
	b.WriteString(" global: ")
	b.WriteString(strconv.FormatBool(r.Global))
	b.WriteString(" ignoreCase: ")
	b.WriteString(strconv.FormatBool(r.IgnoreCase))
	return b.String()
}

// SetType coerces every listed column to Type. Format is an optional Go time
// layout used when the target is a timestamp.
type SetType struct {
	Cols   []string
	Type   dataset.Type
	Format string
}

func (r *SetType) Verb() Verb             { return VerbSetType }
func (r *SetType) Columns() []string      { return r.Cols }
func (r *SetType) Accept(v Visitor) error { return v.VisitSetType(r) }

func (r *SetType) String() string {
	s := "settype col: " + joinIdents(r.Cols) + " type: " + string(r.Type)
	if r.Format != "" {
		s += " format: " + quoteLiteral(r.Format)
	}
	return s
}

// Keep retains the rows for which Row evaluates to true.
type Keep struct {
	Row Expr
}

func (r *Keep) Verb() Verb             { return VerbKeep }
func (r *Keep) Columns() []string      { return ExprColumns(r.Row) }
func (r *Keep) Accept(v Visitor) error { return v.VisitKeep(r) }

func (r *Keep) String() string {
	return "keep row: " + r.Row.String()
}

func quoteIdent(name string) string {
	if isPlainIdent(name) {
		return name
	}
	r := strings.NewReplacer(`\`, `\\`, "`", "\\`")
	return "`" + r.Replace(name) + "`"
}

func quoteLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
