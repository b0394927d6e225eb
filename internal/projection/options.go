package projection

// U64Format controls how 64-bit unsigned integers are rendered.
type U64Format string

const (
	U64Number U64Format = "number"
	U64String U64Format = "string"
)

// TimeRender controls how fields with semantic=unix_ms are rendered.
type TimeRender string

const (
	TimeUnixMS TimeRender = "unix_ms"
	TimeISO    TimeRender = "iso"
)

// BytesRender controls how bytes fields are rendered.
type BytesRender string

const (
	BytesBase64      BytesRender = "base64"
	BytesHex         BytesRender = "hex"
	BytesDescriptive BytesRender = "descriptive"
)

// EnumRender controls how enum_id fields are rendered.
type EnumRender string

const (
	EnumLabel  EnumRender = "label"
	EnumNumber EnumRender = "number"
	EnumObject EnumRender = "object"
)

// View selects what a read call returns for a turn's payload.
type View string

const (
	ViewTyped View = "typed"
	ViewRaw   View = "raw"
	ViewBoth  View = "both"
)

// Options is the complete rendering configuration, passed as a single
// immutable value down the projection tree (spec §9 design note).
type Options struct {
	U64Format      U64Format
	TimeRender     TimeRender
	BytesRender    BytesRender
	EnumRender     EnumRender
	IncludeUnknown bool
}

// DefaultOptions mirrors the conservative defaults implied by spec §4.5
// and the boundary-behavior examples in §8.
func DefaultOptions() Options {
	return Options{
		U64Format:      U64Number,
		TimeRender:     TimeUnixMS,
		BytesRender:    BytesBase64,
		EnumRender:     EnumLabel,
		IncludeUnknown: false,
	}
}
