package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/relaychat/go-relaychat/internal/store"
	"github.com/teris-io/shortid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned for every verification failure. The caller
// never learns whether the signature, expiry, revocation or session check
// rejected the token.
var ErrInvalidToken = errors.New("invalid token")

const (
	userIdClaim    = "user-id"
	usernameClaim  = "username"
	roleClaim      = "role"
	sessionIdClaim = "sid"
	tokenIdClaim   = "jti"
	expClaim       = "exp"
)

// Claims is the verified content of a session token.
type Claims struct {
	UserId    int
	Username  string
	Role      string
	SessionId string
	TokenId   string
	ExpiresAt time.Time
}

type TokenService struct {
	log        *log.Logger
	db         store.Repository
	signingKey []byte
	tokenTTL   time.Duration
	sweepEvery time.Duration
	// generateId is swapped out in tests
	generateId func() (string, error)
	stop       chan struct{}
	done       chan struct{}
}

func NewTokenService(logger *log.Logger, db store.Repository, signingKey []byte, tokenTTL, sweepEvery time.Duration) *TokenService {
	return &TokenService{
		log:        logger,
		db:         db,
		signingKey: signingKey,
		tokenTTL:   tokenTTL,
		sweepEvery: sweepEvery,
		generateId: shortid.Generate,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Issue signs a token bound to the given session id with a fresh token id.
func (ts *TokenService) Issue(user store.User, sessionId string) (token, tokenId string, expiresAt time.Time, err error) {
	tokenId, err = ts.generateId()
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}

	expiresAt = time.Now().Add(ts.tokenTTL)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:    user.Id,
		usernameClaim:  user.Username,
		roleClaim:      user.Role,
		sessionIdClaim: sessionId,
		tokenIdClaim:   tokenId,
		expClaim:       expiresAt.Unix(),
	})

	token, err = t.SignedString(ts.signingKey)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return token, tokenId, expiresAt, nil
}

// StartSession creates exactly one session record and mints exactly one token
// bound to it.
func (ts *TokenService) StartSession(user store.User) (string, store.Session, error) {
	sessionId, err := ts.generateId()
	if err != nil {
		return "", store.Session{}, fmt.Errorf("generate session id: %w", err)
	}

	token, tokenId, expiresAt, err := ts.Issue(user, sessionId)
	if err != nil {
		return "", store.Session{}, err
	}

	now := time.Now().UTC()
	session := store.Session{
		Id:           sessionId,
		UserId:       user.Id,
		TokenId:      tokenId,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    expiresAt,
	}
	if err := ts.db.CreateSession(session); err != nil {
		return "", store.Session{}, fmt.Errorf("create session: %w", err)
	}

	return token, session, nil
}

// Verify checks signature and expiry, then requires the token id to be
// unrevoked AND the session to still be live. The two predicates guard
// different invalidation triggers (explicit logout vs. session expiry) and
// are never collapsed. A successful verify refreshes the session's
// last-activity time.
func (ts *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return ts.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, err := parseClaims(token)
	if err != nil {
		ts.log.Println("token claims:", err)
		return nil, ErrInvalidToken
	}

	if ts.db.IsTokenRevoked(claims.TokenId) {
		return nil, ErrInvalidToken
	}

	session, err := ts.db.GetSession(claims.SessionId)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	if err := ts.db.TouchSession(claims.SessionId, time.Now().UTC()); err != nil {
		ts.log.Println("touch session:", err)
	}

	return claims, nil
}

// EndSession deletes the session record and revokes the token id, with the
// revocation entry expiring alongside the token itself.
func (ts *TokenService) EndSession(claims *Claims) error {
	if err := ts.db.DeleteSession(claims.SessionId); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}

	ts.db.RevokeToken(claims.TokenId, claims.ExpiresAt)
	return nil
}

// Run starts the periodic sweep of expired sessions and revocation entries.
func (ts *TokenService) Run() {
	go func() {
		defer close(ts.done)

		ticker := time.NewTicker(ts.sweepEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sessions, tokens := ts.db.PurgeExpired(time.Now())
				if sessions > 0 || tokens > 0 {
					ts.log.Printf("purged %d expired sessions, %d revocation entries", sessions, tokens)
				}
			case <-ts.stop:
				return
			}
		}
	}()
}

func (ts *TokenService) Stop() {
	close(ts.stop)
	<-ts.done
}

func parseClaims(token *jwt.Token) (*Claims, error) {
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	userId, ok := mapClaims[userIdClaim].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid user id claim")
	}
	username, _ := mapClaims[usernameClaim].(string)
	role, _ := mapClaims[roleClaim].(string)

	sessionId, ok := mapClaims[sessionIdClaim].(string)
	if !ok || sessionId == "" {
		return nil, fmt.Errorf("invalid session id claim")
	}
	tokenId, ok := mapClaims[tokenIdClaim].(string)
	if !ok || tokenId == "" {
		return nil, fmt.Errorf("invalid token id claim")
	}
	exp, ok := mapClaims[expClaim].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid exp claim")
	}

	return &Claims{
		UserId:    int(userId),
		Username:  username,
		Role:      role,
		SessionId: sessionId,
		TokenId:   tokenId,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}

func HashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func VerifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
