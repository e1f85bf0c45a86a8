package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// TxTypeLifeline is the transaction kind sent to the pricing backend when
// quoting a lifeline extension.
const TxTypeLifeline = "lifeline"

// LifelinePrimaryType is the EIP-712 primary type of a lifeline message
const LifelinePrimaryType = "Lifeline"

// LifelineFields are the struct fields of the Lifeline primary type
var LifelineFields = []TypedDataField{
	{Name: "blockID", Type: "string"},
	{Name: "price", Type: "uint64"},
	{Name: "space", Type: "string"},
	{Name: "units", Type: "uint64"},
}

// LifelineMessage is the decoded body of a lifeline typed-data message
type LifelineMessage struct {
	BlockID string
	Space   string
	Units   uint64
	Price   uint64
}

// NewLifelineTypedData builds the signable message for a lifeline extension.
// Integer fields are encoded as decimal strings, which is what wallets and the
// EIP-712 encoder both accept.
func NewLifelineTypedData(domain TypedDataDomain, msg LifelineMessage) TypedData {
	return TypedData{
		Types: map[string][]TypedDataField{
			LifelinePrimaryType: LifelineFields,
		},
		PrimaryType: LifelinePrimaryType,
		Domain:      domain,
		Message: map[string]interface{}{
			"blockID": msg.BlockID,
			"price":   strconv.FormatUint(msg.Price, 10),
			"space":   msg.Space,
			"units":   strconv.FormatUint(msg.Units, 10),
		},
	}
}

// ParseLifelineMessage extracts the lifeline fields from typed data
func ParseLifelineMessage(td TypedData) (LifelineMessage, error) {
	if td.PrimaryType != LifelinePrimaryType {
		return LifelineMessage{}, fmt.Errorf("unexpected primary type %q", td.PrimaryType)
	}

	space, ok := td.Message["space"].(string)
	if !ok || space == "" {
		return LifelineMessage{}, fmt.Errorf("lifeline message missing space")
	}
	blockID, _ := td.Message["blockID"].(string)

	units, err := uintField(td.Message, "units")
	if err != nil {
		return LifelineMessage{}, err
	}
	price, err := uintField(td.Message, "price")
	if err != nil {
		return LifelineMessage{}, err
	}

	return LifelineMessage{
		BlockID: blockID,
		Space:   space,
		Units:   units,
		Price:   price,
	}, nil
}

func uintField(message map[string]interface{}, name string) (uint64, error) {
	switch v := message[name].(type) {
	case string:
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		return n, nil
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("invalid %s %v", name, v)
		}
		return uint64(v), nil
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		return n, nil
	case uint64:
		return v, nil
	case nil:
		return 0, fmt.Errorf("lifeline message missing %s", name)
	default:
		return 0, fmt.Errorf("invalid %s type %T", name, v)
	}
}
