// Package catalog loads the printer model catalog and resolves
// discovered device names to known models.
package catalog

import (
	"regexp"
	"strings"
)

// PrinterModel is one immutable profile from the model catalog. The
// protocol parameters (energy, speed, MTU, compression flags) are
// passed through to the wire encoder untouched.
type PrinterModel struct {
	ModelNo          string `json:"model_no"`
	Model            int    `json:"model"`
	Size             int    `json:"size"`
	PaperSize        int    `json:"paper_size"`
	PrintSize        int    `json:"print_size"`
	OneLength        int    `json:"one_length"`
	HeadName         string `json:"head_name"`
	CanChangeMTU     bool   `json:"can_change_mtu"`
	DevDPI           int    `json:"dev_dpi"`
	ImgPrintSpeed    int    `json:"img_print_speed"`
	TextPrintSpeed   int    `json:"text_print_speed"`
	ImgMTU           int    `json:"img_mtu"`
	NewCompress      bool   `json:"new_compress"`
	PaperNum         int    `json:"paper_num"`
	IntervalMs       int    `json:"interval_ms"`
	ThinEnergy       int    `json:"thin_energy"`
	ModerationEnergy int    `json:"moderation_energy"`
	DeepenEnergy     int    `json:"deepen_energy"`
	TextEnergy       int    `json:"text_energy"`
	HasID            bool   `json:"has_id"`
	UseSPP           bool   `json:"use_spp"`
	NewFormat        bool   `json:"new_format"`
	CanPrintLabel    bool   `json:"can_print_label"`
	LabelValue       string `json:"label_value"`
	BackPaperNum     int    `json:"back_paper_num"`
	A4XII            bool   `json:"a4xii"`
	AddMorPix        *bool  `json:"add_mor_pix,omitempty"`
}

// Width is the printable width in dots.
func (m PrinterModel) Width() int {
	return m.PrintSize
}

// MatchSource says which lookup path produced a model match.
type MatchSource string

const (
	SourceHeadName MatchSource = "head_name"
	SourceModelNo  MatchSource = "model_no"
	SourceAlias    MatchSource = "alias"
)

// AliasKind distinguishes the two alias table entry types.
type AliasKind string

const (
	AliasHeadName AliasKind = "head_name"
	AliasMac      AliasKind = "mac"
)

// Match carries a resolved model plus its provenance, so callers can
// warn the user when the match came through the alias table.
type Match struct {
	Model     PrinterModel
	Source    MatchSource
	AliasKind AliasKind // set only when Source == SourceAlias
}

// UsedAlias reports whether the match came from the alias table.
func (m Match) UsedAlias() bool {
	return m.Source == SourceAlias
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonHexRe     = regexp.MustCompile(`[^0-9A-F]`)
)

// normalizeAliasName strips all whitespace and uppercases, so alias
// prefixes match regardless of spacing in the advertised name.
func normalizeAliasName(value string) string {
	return strings.ToUpper(whitespaceRe.ReplaceAllString(value, ""))
}

// normalizeMacCandidate keeps only hex digits, so "AA:BB" and "AABB"
// suffixes both match.
func normalizeMacCandidate(value string) string {
	return nonHexRe.ReplaceAllString(strings.ToUpper(value), "")
}
