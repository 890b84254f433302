package curve

import (
	"maps"
	"strconv"
)

// Well-known metadata keys accepted by Metadata.Get.
const (
	MetaExchange   = "exchange"
	MetaTokenXAddr = "tknx_addr"
	MetaTokenYAddr = "tkny_addr"
	MetaDecimalsX  = "tknx_dec"
	MetaDecimalsY  = "tkny_dec"
	MetaBlock      = "block"
	MetaStrategyID = "strategy_id"
	MetaDescr      = "descr"
)

// Metadata carries the exchange-side description of a curve. Well-known
// fields are typed; genuinely exchange-specific values go in Extras.
type Metadata struct {
	Exchange   string            `json:"exchange,omitempty"`
	TokenXAddr string            `json:"tknx_addr,omitempty"`
	TokenYAddr string            `json:"tkny_addr,omitempty"`
	DecimalsX  int               `json:"tknx_dec,omitempty"`
	DecimalsY  int               `json:"tkny_dec,omitempty"`
	Block      uint64            `json:"block,omitempty"`
	StrategyID string            `json:"strategy_id,omitempty"`
	Descr      string            `json:"descr,omitempty"`
	Extras     map[string]string `json:"extras,omitempty"`
}

// Get returns the value stored under key, checking the typed fields before
// Extras. Numeric fields are rendered in base 10; zero values count as unset.
func (m Metadata) Get(key string) (string, bool) {
	switch key {
	case MetaExchange:
		return m.Exchange, m.Exchange != ""
	case MetaTokenXAddr:
		return m.TokenXAddr, m.TokenXAddr != ""
	case MetaTokenYAddr:
		return m.TokenYAddr, m.TokenYAddr != ""
	case MetaDecimalsX:
		return strconv.Itoa(m.DecimalsX), m.DecimalsX != 0
	case MetaDecimalsY:
		return strconv.Itoa(m.DecimalsY), m.DecimalsY != 0
	case MetaBlock:
		return strconv.FormatUint(m.Block, 10), m.Block != 0
	case MetaStrategyID:
		return m.StrategyID, m.StrategyID != ""
	case MetaDescr:
		return m.Descr, m.Descr != ""
	}
	v, ok := m.Extras[key]
	return v, ok
}

// Equal compares two metadata values field by field.
func (m Metadata) Equal(o Metadata) bool {
	return m.Exchange == o.Exchange &&
		m.TokenXAddr == o.TokenXAddr &&
		m.TokenYAddr == o.TokenYAddr &&
		m.DecimalsX == o.DecimalsX &&
		m.DecimalsY == o.DecimalsY &&
		m.Block == o.Block &&
		m.StrategyID == o.StrategyID &&
		m.Descr == o.Descr &&
		maps.Equal(m.Extras, o.Extras)
}

func (m Metadata) clone() Metadata {
	if m.Extras != nil {
		m.Extras = maps.Clone(m.Extras)
	}
	return m
}

// swapped returns the metadata as seen from the reversed pair.
func (m Metadata) swapped() Metadata {
	m = m.clone()
	m.TokenXAddr, m.TokenYAddr = m.TokenYAddr, m.TokenXAddr
	m.DecimalsX, m.DecimalsY = m.DecimalsY, m.DecimalsX
	return m
}
