// internal/services/custody_service.go
package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
	"github.com/stellar/go/keypair"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/javajoker/settlement-backend/internal/config"
)

const (
	sealedKMSPrefix       = "kms:"
	sealedSecretboxPrefix = "sb:"
)

var ErrSealedSecretInvalid = errors.New("sealed secret is invalid")

// SecretSealer encrypts custodial secrets at rest. The sealed form is a
// printable string that carries its own scheme prefix.
type SecretSealer interface {
	Seal(ctx context.Context, plaintext []byte) (string, error)
	Open(ctx context.Context, sealed string) ([]byte, error)
}

// SecretboxSealer seals with a local 32-byte key.
type SecretboxSealer struct {
	key [32]byte
}

func NewSecretboxSealer(encodedKey string) (*SecretboxSealer, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("custody key is not base64: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("custody key must be 32 bytes, got %d", len(raw))
	}
	s := &SecretboxSealer{}
	copy(s.key[:], raw)
	return s, nil
}

func (s *SecretboxSealer) Seal(_ context.Context, plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return sealedSecretboxPrefix + base64.StdEncoding.EncodeToString(box), nil
}

func (s *SecretboxSealer) Open(_ context.Context, sealed string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedSecretboxPrefix)
	if !ok {
		return nil, ErrSealedSecretInvalid
	}
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(box) < 24+secretbox.Overhead {
		return nil, ErrSealedSecretInvalid
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plaintext, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return nil, ErrSealedSecretInvalid
	}
	return plaintext, nil
}

// KMSSealer delegates to an AWS KMS key; the plaintext key never leaves KMS.
type KMSSealer struct {
	client kmsiface.KMSAPI
	keyID  string
}

func NewKMSSealer(client kmsiface.KMSAPI, keyID string) *KMSSealer {
	return &KMSSealer{client: client, keyID: keyID}
}

func (s *KMSSealer) Seal(ctx context.Context, plaintext []byte) (string, error) {
	out, err := s.client.EncryptWithContext(ctx, &kms.EncryptInput{
		KeyId:     aws.String(s.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt failed: %w", err)
	}
	return sealedKMSPrefix + base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

func (s *KMSSealer) Open(ctx context.Context, sealed string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedKMSPrefix)
	if !ok {
		return nil, ErrSealedSecretInvalid
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrSealedSecretInvalid
	}
	out, err := s.client.DecryptWithContext(ctx, &kms.DecryptInput{
		KeyId:          aws.String(s.keyID),
		CiphertextBlob: blob,
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt failed: %w", err)
	}
	return out.Plaintext, nil
}

// NewSecretSealer picks the sealer named by the custody config.
func NewSecretSealer(cfg *config.Config) (SecretSealer, error) {
	switch cfg.Custody.Provider {
	case "kms":
		awsConfig := &aws.Config{Region: aws.String(cfg.AWS.Region)}
		if cfg.AWS.AccessKeyID != "" {
			awsConfig.Credentials = credentials.NewStaticCredentials(
				cfg.AWS.AccessKeyID,
				cfg.AWS.SecretAccessKey,
				"",
			)
		}
		sess, err := session.NewSession(awsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		return NewKMSSealer(kms.New(sess), cfg.Custody.KMSKeyID), nil
	case "local", "":
		return NewSecretboxSealer(cfg.Custody.LocalKey)
	}
	return nil, fmt.Errorf("unknown custody provider %q", cfg.Custody.Provider)
}

// CustodyService holds the custodial ledger keys the server signs with.
type CustodyService struct {
	sealer   SecretSealer
	platform *keypair.Full
}

func NewCustodyService(sealer SecretSealer, platformSecret string) (*CustodyService, error) {
	platform, err := keypair.ParseFull(platformSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid platform secret: %w", err)
	}
	return &CustodyService{sealer: sealer, platform: platform}, nil
}

// Platform is the "mother" account that holds admin-minted stock and
// collects platform fees.
func (s *CustodyService) Platform() *keypair.Full {
	return s.platform
}

func (s *CustodyService) SealSeed(ctx context.Context, kp *keypair.Full) (string, error) {
	return s.sealer.Seal(ctx, []byte(kp.Seed()))
}

func (s *CustodyService) OpenKeypair(ctx context.Context, sealed string) (*keypair.Full, error) {
	seed, err := s.sealer.Open(ctx, sealed)
	if err != nil {
		return nil, err
	}
	kp, err := keypair.ParseFull(string(seed))
	if err != nil {
		return nil, fmt.Errorf("sealed secret does not hold a ledger seed: %w", err)
	}
	return kp, nil
}
