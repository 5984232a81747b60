package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 hashes of the canonical EIP-712 type strings.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// ClobAuth(address address,uint256 timestamp,uint256 nonce)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)

	// Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// OrderPayload carries the twelve signed fields of a CLOB order. Addresses
// and uint256 values travel as strings so JSON round-trips never lose
// precision.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE
}

// Signer signs EIP-712 payloads for the Polymarket CLOB.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // ClobAuthDomain separator, cached at construction
}

// NewSigner builds a Signer from a hex-encoded secp256k1 private key.
// chainID is 137 for Polygon mainnet, 80002 for the Amoy testnet.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = domainSeparator("ClobAuthDomain", "1", chainID)
	return s, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs the ClobAuth struct used to derive or validate an
// API key. The result is a 0x-prefixed 65-byte signature (r || s || v).
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	addr := common.HexToAddress(address)

	structHash := ethcrypto.Keccak256(concat(
		clobAuthTypeHash,
		common.LeftPadBytes(addr.Bytes(), 32),
		uint256Bytes(big.NewInt(timestamp)),
		uint256Bytes(big.NewInt(nonce)),
	))

	return s.signDigest(typedDataDigest(s.domainSep, structHash))
}

// SignOrder signs an order payload for submission to the CLOB, returning a
// 0x-prefixed 65-byte signature.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return s.signDigest(typedDataDigest(s.domainSep, structHash))
}

// domainSeparator returns keccak256(typeHash || nameHash || versionHash || chainId).
func domainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(concat(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		uint256Bytes(big.NewInt(int64(chainID))),
	))
}

// typedDataDigest is the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func typedDataDigest(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concat([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest signs a 32-byte digest and hex-encodes the result. go-ethereum
// yields v in {0,1}; the CLOB expects {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func orderStructHash(o OrderPayload) ([]byte, error) {
	nums := make([]*big.Int, 0, 7)
	for _, f := range []struct {
		name, val string
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	} {
		n, ok := new(big.Int).SetString(f.val, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/signer: invalid %s %q", f.name, f.val)
		}
		nums = append(nums, n)
	}

	maker := common.HexToAddress(o.Maker)
	signer := common.HexToAddress(o.Signer)
	taker := common.HexToAddress(o.Taker)

	return ethcrypto.Keccak256(concat(
		orderTypeHash,
		uint256Bytes(nums[0]), // salt
		common.LeftPadBytes(maker.Bytes(), 32),
		common.LeftPadBytes(signer.Bytes(), 32),
		common.LeftPadBytes(taker.Bytes(), 32),
		uint256Bytes(nums[1]), // tokenId
		uint256Bytes(nums[2]), // makerAmount
		uint256Bytes(nums[3]), // takerAmount
		uint256Bytes(nums[4]), // expiration
		uint256Bytes(nums[5]), // nonce
		uint256Bytes(nums[6]), // feeRateBps
		uint256Bytes(big.NewInt(int64(o.Side))),
		uint256Bytes(big.NewInt(int64(o.SignatureType))),
	)), nil
}

// uint256Bytes returns the 32-byte big-endian representation of n.
func uint256Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concat(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
