package matching

import (
	"encoding/hex"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Domain parameterizes the EIP-712 typed-data hash so signatures bind to one
// deployment: same order, different chain or contract, different hash.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

const orderType = "Order(address perp,int256 paperAmount,int256 creditAmount," +
	"int128 makerFeeRate,int128 takerFeeRate,address signer,address orderSender," +
	"uint256 expiration,uint256 nonce)"

var (
	domainTypeHash = keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	orderTypeHash  = keccak256([]byte(orderType))

	// 2^256, for two's-complement encoding of negative int256 values.
	twoPow256 = new(big.Int).Lsh(big.NewInt(1), 256)
)

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() []byte {
	encoded := make([]byte, 0, 160)
	encoded = append(encoded, domainTypeHash...)
	encoded = append(encoded, keccak256([]byte(d.Name))...)
	encoded = append(encoded, keccak256([]byte(d.Version))...)
	encoded = append(encoded, padLeft(big.NewInt(d.ChainID).Bytes(), 32)...)
	encoded = append(encoded, padLeft(hexToAddress(d.VerifyingContract), 32)...)
	return keccak256(encoded)
}

// HashOrder returns the typed-data digest that signers actually sign:
// keccak256(0x19 0x01 || domainSeparator || structHash).
func HashOrder(d Domain, o *Order) [32]byte {
	structHash := hashOrderStruct(o)
	encoded := make([]byte, 0, 66)
	encoded = append(encoded, 0x19, 0x01)
	encoded = append(encoded, d.Separator()...)
	encoded = append(encoded, structHash...)

	var out [32]byte
	copy(out[:], keccak256(encoded))
	return out
}

func hashOrderStruct(o *Order) []byte {
	encoded := make([]byte, 0, 320)
	encoded = append(encoded, orderTypeHash...)
	encoded = append(encoded, padLeft(hexToAddress(o.Market), 32)...)
	encoded = append(encoded, encodeSigned(o.Paper.Shift(18).Truncate(0).BigInt())...)
	encoded = append(encoded, encodeSigned(o.Credit.Shift(18).Truncate(0).BigInt())...)
	encoded = append(encoded, encodeSigned(o.MakerFeeRate.Shift(18).Truncate(0).BigInt())...)
	encoded = append(encoded, encodeSigned(o.TakerFeeRate.Shift(18).Truncate(0).BigInt())...)
	encoded = append(encoded, padLeft(hexToAddress(o.Signer), 32)...)
	encoded = append(encoded, padLeft(hexToAddress(o.OrderSender), 32)...)
	encoded = append(encoded, padLeft(big.NewInt(o.ExpiresAt).Bytes(), 32)...)
	encoded = append(encoded, padLeft(new(big.Int).SetUint64(o.Nonce).Bytes(), 32)...)
	return keccak256(encoded)
}

func encodeSigned(v *big.Int) []byte {
	if v.Sign() < 0 {
		v = new(big.Int).Add(twoPow256, v)
	}
	return padLeft(v.Bytes(), 32)
}

func hexToAddress(s string) []byte {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(s) < 40 {
		s = strings.Repeat("0", 40-len(s)) + s
	}
	b, _ := hex.DecodeString(s)
	return b
}

func padLeft(data []byte, size int) []byte {
	if len(data) >= size {
		return data[len(data)-size:]
	}
	result := make([]byte, size)
	copy(result[size-len(data):], data)
	return result
}
