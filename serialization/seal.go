package serialization

import (
	"bytes"
	"crypto/ecdsa"
	"sort"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	sealCompressionField protowire.Number = 1
	sealPayloadField     protowire.Number = 2
	sealSignerField      protowire.Number = 3
	sealSignatureField   protowire.Number = 4

	compressionNone uint64 = 0
	compressionZstd uint64 = 1
)

// The maximum size of a decompressed snapshot payload. It fits a layer of
// about a million tsdf blocks.
var maxPayloadSize uint64 = 4 << 30

// Snapshot is an opened sealed payload.
type Snapshot struct {
	Payload    []byte
	Compressed bool

	// The address of the key that signed the payload. Empty when the payload
	// was not signed.
	Signer string
}

// Sealer wraps payloads into snapshots: optionally zstd compressed and
// signed with a secp256k1 key over the Keccak256 hash of the stored bytes.
//
// A sealer with a private key only opens snapshots signed by itself or by
// one of its trusted signers. A sealer without a key opens any snapshot
// whose signature, when present, matches its content.
type Sealer struct {
	compress   bool
	privateKey *ecdsa.PrivateKey
	trusted    map[common.Address]struct{}
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
}

// NewSealer creates a sealer. Payloads are signed only when privateKey is
// not nil.
func NewSealer(privateKey *ecdsa.PrivateKey, compress bool) (*Sealer, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.New("creating zstd encoder failed").Wrap(err)
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize))
	if err != nil {
		encoder.Close()
		return nil, errors.New("creating zstd decoder failed").Wrap(err)
	}

	s := &Sealer{
		compress:   compress,
		privateKey: privateKey,
		trusted:    make(map[common.Address]struct{}),
		encoder:    encoder,
		decoder:    decoder,
	}
	if privateKey != nil {
		s.trusted[crypto.PubkeyToAddress(privateKey.PublicKey)] = struct{}{}
	}
	return s, nil
}

// TrustSigners adds the given hex addresses to the signers whose snapshots
// are opened. It must be called before the sealer is shared.
func (s *Sealer) TrustSigners(addresses ...string) error {
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if !common.IsHexAddress(a) {
			return errors.New("invalid trusted signer address").
				WithTag("address", a)
		}
		s.trusted[common.HexToAddress(a)] = struct{}{}
	}
	return nil
}

// TrustedSigners returns the sorted addresses of the trusted signers.
func (s *Sealer) TrustedSigners() []string {
	signers := make([]string, 0, len(s.trusted))
	for a := range s.trusted {
		signers = append(signers, a.Hex())
	}
	sort.Strings(signers)
	return signers
}

// Signer returns the address payloads are signed with, or an empty string.
func (s *Sealer) Signer() string {
	if s.privateKey == nil {
		return ""
	}
	return crypto.PubkeyToAddress(s.privateKey.PublicKey).Hex()
}

// Seal wraps payload into a snapshot.
func (s *Sealer) Seal(payload []byte) ([]byte, error) {
	compression := compressionNone
	if s.compress {
		compression = compressionZstd
		payload = s.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	}

	var data []byte
	data = protowire.AppendTag(data, sealCompressionField, protowire.VarintType)
	data = protowire.AppendVarint(data, compression)
	data = protowire.AppendTag(data, sealPayloadField, protowire.BytesType)
	data = protowire.AppendBytes(data, payload)

	if s.privateKey != nil {
		signature, err := crypto.Sign(crypto.Keccak256Hash(payload).Bytes(), s.privateKey)
		if err != nil {
			return nil, errors.New("signing snapshot failed").Wrap(err)
		}

		signer := crypto.PubkeyToAddress(s.privateKey.PublicKey)
		data = protowire.AppendTag(data, sealSignerField, protowire.BytesType)
		data = protowire.AppendBytes(data, signer.Bytes())
		data = protowire.AppendTag(data, sealSignatureField, protowire.BytesType)
		data = protowire.AppendBytes(data, signature)
	}
	return data, nil
}

// Open unwraps a snapshot, checking its signature when present.
func (s *Sealer) Open(data []byte) (Snapshot, error) {
	compression := compressionNone
	var payload, signer, signature []byte

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, value []byte) (int, error) {
		switch {
		case num == sealCompressionField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(value)
			compression = v
			return n, nil

		case num == sealPayloadField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(value)
			payload = v
			return n, nil

		case num == sealSignerField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(value)
			signer = v
			return n, nil

		case num == sealSignatureField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(value)
			signature = v
			return n, nil

		default:
			return -1, nil
		}
	})
	if err != nil {
		return Snapshot{}, err
	}

	var snapshot Snapshot
	if len(signature) != 0 || len(signer) != 0 {
		address, err := verify(payload, signer, signature)
		if err != nil {
			return Snapshot{}, err
		}
		snapshot.Signer = address.Hex()

		if _, ok := s.trusted[address]; !ok && s.privateKey != nil {
			return Snapshot{}, errors.New("snapshot signer is not trusted").
				WithType(ErrTypeBadSignature).
				WithTag("signer", address.Hex())
		}
	} else if s.privateKey != nil {
		return Snapshot{}, errors.New("snapshot is not signed").
			WithType(ErrTypeBadSignature)
	}

	switch compression {
	case compressionNone:
		snapshot.Payload = payload

	case compressionZstd:
		decompressed, err := s.decoder.DecodeAll(payload, nil)
		if err != nil {
			return Snapshot{}, errors.New("decompressing snapshot failed").
				WithType(ErrTypeBadSnapshot).
				Wrap(err)
		}
		snapshot.Payload = decompressed
		snapshot.Compressed = true

	default:
		return Snapshot{}, errors.New("unknown snapshot compression").
			WithType(ErrTypeBadSnapshot).
			WithTag("compression", compression)
	}
	return snapshot, nil
}

// Close releases the zstd encoder and decoder.
func (s *Sealer) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

func verify(payload, signer, signature []byte) (common.Address, error) {
	if len(signer) != common.AddressLength || len(signature) != crypto.SignatureLength {
		return common.Address{}, errors.New("malformed snapshot signature").
			WithType(ErrTypeBadSignature).
			WithTag("signer_length", len(signer)).
			WithTag("signature_length", len(signature))
	}

	publicKey, err := crypto.SigToPub(crypto.Keccak256Hash(payload).Bytes(), signature)
	if err != nil {
		return common.Address{}, errors.New("recovering snapshot signer failed").
			WithType(ErrTypeBadSignature).
			Wrap(err)
	}

	recovered := crypto.PubkeyToAddress(*publicKey)
	if !bytes.Equal(recovered.Bytes(), signer) {
		return common.Address{}, errors.New("snapshot signature does not match its signer").
			WithType(ErrTypeBadSignature).
			WithTag("signer", common.BytesToAddress(signer).Hex()).
			WithTag("recovered", recovered.Hex())
	}
	return recovered, nil
}
