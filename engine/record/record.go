package record

// Category labels a security log record with its log family. Labels come
// from the normalizer that produced the record and drive how retrieved
// context is grouped before prompting.
type Category string

func (c Category) String() string { return string(c) }

const (
	CategoryIDS        Category = "ids"
	CategoryConfig     Category = "config"
	CategoryCompliance Category = "compliance"
	CategoryCert       Category = "cert"
	CategoryTraffic    Category = "traffic"
	CategoryLog        Category = "log"
	CategoryGateway    Category = "gateway"
	CategoryFilter     Category = "filter"
	CategoryIPSec      Category = "ipsec"
	CategoryNmap       Category = "nmap"
	CategoryOther      Category = "other"
)

// RenderOrder lists the context sections in priority order. Intrusion
// alerts render first so they survive tight token budgets.
var RenderOrder = []Category{
	CategoryIDS,
	CategoryConfig,
	CategoryCompliance,
	CategoryCert,
	CategoryTraffic,
	CategoryLog,
	CategoryOther,
}

// Bucket maps a stored type label to its context section. Labels without a
// dedicated section, including gateway, filter, ipsec and nmap, fold into
// other.
func Bucket(label string) Category {
	switch c := Category(label); c {
	case CategoryIDS, CategoryConfig, CategoryCompliance, CategoryCert, CategoryTraffic, CategoryLog, CategoryOther:
		return c
	default:
		return CategoryOther
	}
}

// Metadata keys shared between ingestion and retrieval.
const (
	MetaType       = "type"
	MetaSourceFile = "source_file"
	MetaTimestamp  = "timestamp"
)

// Record is a normalized security log unit ready for indexing.
type Record struct {
	ID        string
	Text      string
	Category  string
	Source    string
	Timestamp string
	Metadata  map[string]any
}

// FromEntries converts decoded JSON entries into records, preserving order.
// Entries that resolve to empty text are kept here so ingestion can assign
// positional ids before dropping them.
func FromEntries(entries []Entry) []Record {
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		records = append(records, entry.Record())
	}
	return records
}
