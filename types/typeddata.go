package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedDataDomain is the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId,omitempty"`
	VerifyingContract string   `json:"verifyingContract,omitempty"`
}

// TypedDataField is a single field of an EIP-712 struct type
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedData is an EIP-712 signable message in the eth_signTypedData_v4 JSON shape.
// It is produced by the pricing backend and must be signed verbatim.
type TypedData struct {
	Types       map[string][]TypedDataField `json:"types"`
	PrimaryType string                      `json:"primaryType"`
	Domain      TypedDataDomain             `json:"domain"`
	Message     map[string]interface{}      `json:"message"`
}

// Hash computes the EIP-712 digest of the typed data.
//
// The hash is computed as: keccak256("\x19\x01" + domainSeparator + structHash)
func (td TypedData) Hash() ([]byte, error) {
	typedData := td.apiTypedData()

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// Equal reports whether both messages hash to the same digest.
// Messages that cannot be hashed are never equal.
func (td TypedData) Equal(other TypedData) bool {
	a, err := td.Hash()
	if err != nil {
		return false
	}
	b, err := other.Hash()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Clone returns a deep copy through a JSON round trip so that the caller can
// never mutate a message another goroutine is signing.
func (td TypedData) Clone() (TypedData, error) {
	raw, err := json.Marshal(td)
	if err != nil {
		return TypedData{}, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	var out TypedData
	if err := json.Unmarshal(raw, &out); err != nil {
		return TypedData{}, fmt.Errorf("failed to unmarshal typed data: %w", err)
	}
	return out, nil
}

func (td TypedData) apiTypedData() apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: td.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              td.Domain.Name,
			Version:           td.Domain.Version,
			ChainId:           (*math.HexOrDecimal256)(td.Domain.ChainID),
			VerifyingContract: td.Domain.VerifyingContract,
		},
		Message: td.Message,
	}

	for typeName, fields := range td.Types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = DomainFields(td.Domain)
	}

	return typedData
}

// DomainFields returns the EIP712Domain field list matching the populated
// members of the domain.
func DomainFields(domain TypedDataDomain) []apitypes.Type {
	var fields []apitypes.Type
	if domain.Name != "" {
		fields = append(fields, apitypes.Type{Name: "name", Type: "string"})
	}
	if domain.Version != "" {
		fields = append(fields, apitypes.Type{Name: "version", Type: "string"})
	}
	if domain.ChainID != nil {
		fields = append(fields, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if domain.VerifyingContract != "" {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	return fields
}
