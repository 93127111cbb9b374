package capability

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

type Operation string

const (
	OpPublish   Operation = "publish"
	OpSubscribe Operation = "subscribe"
	OpPresence  Operation = "presence"
)

var (
	ErrInvalidSigningAlg = errors.New("invalid signing algorithm")
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", apperror.ErrUnauthorized)
	ErrMissingIdentity   = fmt.Errorf("%w: client id and room id are required", apperror.ErrUnauthorized)
)

// Capability maps a channel name to the operations allowed on it.
type Capability map[string][]Operation

// ForRoom returns the only capability ever granted for a room: publish and presence on the
// control channel, subscribe on the broadcast channel.
func ForRoom(roomID string) Capability {
	return Capability{
		entity.ControlChannel(roomID):   {OpPresence, OpPublish},
		entity.BroadcastChannel(roomID): {OpSubscribe},
	}
}

func (c Capability) Allows(channel string, op Operation) bool {
	return slices.Contains(c[channel], op)
}

func (c Capability) Equal(other Capability) bool {
	return maps.EqualFunc(c, other, func(a, b []Operation) bool {
		return slices.Equal(a, b)
	})
}

// Credential is what a client presents to the realtime gateway.
type Credential struct {
	Token      string     `json:"token"`
	ClientID   string     `json:"clientId"`
	RoomID     string     `json:"roomId"`
	Capability Capability `json:"capability"`
}

// Grant is a verified credential.
type Grant struct {
	ClientID   string
	RoomID     string
	Capability Capability
}

func (that *Grant) Allows(channel string, op Operation) bool {
	return that.Capability.Allows(channel, op)
}

type claims struct {
	RoomID     string     `json:"room"`
	Capability Capability `json:"capability"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies room scoped credentials. Tokens carry no issue or expiry time,
// so the same (client, room) pair always yields the same token.
type Issuer struct {
	secretKey []byte
	issuer    string
}

func NewIssuer(secretKey, issuer string) *Issuer {
	return &Issuer{
		secretKey: []byte(secretKey),
		issuer:    issuer,
	}
}

func (that *Issuer) Issue(clientID, roomID string) (*Credential, error) {
	if clientID == "" || roomID == "" {
		return nil, ErrMissingIdentity
	}

	capability := ForRoom(roomID)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RoomID:     roomID,
		Capability: capability,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: clientID,
			Issuer:  that.issuer,
		},
	})

	signed, err := token.SignedString(that.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	return &Credential{
		Token:      signed,
		ClientID:   clientID,
		RoomID:     roomID,
		Capability: capability,
	}, nil
}

func (that *Issuer) Verify(token string) (*Grant, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSigningAlg
		}
		return that.secretKey, nil
	}, jwt.WithIssuer(that.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	parsedClaims, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredential
	}

	if parsedClaims.Subject == "" || parsedClaims.RoomID == "" {
		return nil, ErrInvalidCredential
	}

	// a grant is only ever the one derived from its room
	if !parsedClaims.Capability.Equal(ForRoom(parsedClaims.RoomID)) {
		return nil, fmt.Errorf("%w: capability does not match room", ErrInvalidCredential)
	}

	return &Grant{
		ClientID:   parsedClaims.Subject,
		RoomID:     parsedClaims.RoomID,
		Capability: parsedClaims.Capability,
	}, nil
}
