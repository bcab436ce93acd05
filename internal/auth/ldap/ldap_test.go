package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/sentinel/internal/config"
)

type fakeConn struct {
	binds     [][2]string
	filter    string
	entries   []*ldap.Entry
	searchErr error
	userBind  error
	startTLS  bool
	closed    bool
}

func (f *fakeConn) Bind(username, password string) error {
	f.binds = append(f.binds, [2]string{username, password})
	if username == "cn=svc,dc=example,dc=com" {
		return nil
	}
	return f.userBind
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.filter = req.Filter
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &ldap.SearchResult{Entries: f.entries}, nil
}

func (f *fakeConn) StartTLS(*tls.Config) error { f.startTLS = true; return nil }
func (f *fakeConn) Close() error               { f.closed = true; return nil }

func testConfig() config.LDAPConfig {
	return config.LDAPConfig{
		Enabled:      true,
		URL:          "ldap://dir.example.com",
		BindDN:       "cn=svc,dc=example,dc=com",
		BindPassword: "svc-pass",
		BaseDN:       "dc=example,dc=com",
		UserFilter:   "(uid=%s)",
	}
}

func newWithConn(cfg config.LDAPConfig, fc *fakeConn) *Authenticator {
	a := New(cfg)
	a.dial = func(string, time.Duration) (conn, error) { return fc, nil }
	return a
}

func TestAuthenticate_Success(t *testing.T) {
	fc := &fakeConn{entries: []*ldap.Entry{{DN: "uid=alice,dc=example,dc=com"}}}
	cfg := testConfig()
	cfg.StartTLS = true

	err := newWithConn(cfg, fc).Authenticate(context.Background(), "alice", "pw")
	require.NoError(t, err)

	assert.True(t, fc.startTLS)
	assert.True(t, fc.closed)
	assert.Equal(t, "(uid=alice)", fc.filter)
	require.Len(t, fc.binds, 2)
	assert.Equal(t, [2]string{"uid=alice,dc=example,dc=com", "pw"}, fc.binds[1])
}

func TestAuthenticate_EscapesFilter(t *testing.T) {
	fc := &fakeConn{}
	err := newWithConn(testConfig(), fc).Authenticate(context.Background(), "a*)(uid=*", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, `(uid=a\2a\29\28uid=\2a)`, fc.filter)
}

func TestAuthenticate_Failures(t *testing.T) {
	one := []*ldap.Entry{{DN: "uid=alice,dc=example,dc=com"}}
	tests := []struct {
		name     string
		username string
		password string
		conn     *fakeConn
		wantErr  error
	}{
		{"empty password", "alice", "", &fakeConn{entries: one}, ErrInvalidCredentials},
		{"no match", "alice", "pw", &fakeConn{}, ErrInvalidCredentials},
		{"ambiguous match", "alice", "pw", &fakeConn{entries: append(one, &ldap.Entry{DN: "uid=alice2"})}, ErrInvalidCredentials},
		{"size limit", "alice", "pw", &fakeConn{searchErr: ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("too many"))}, ErrInvalidCredentials},
		{"wrong password", "alice", "pw", &fakeConn{entries: one, userBind: ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad"))}, ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newWithConn(testConfig(), tt.conn).Authenticate(context.Background(), tt.username, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthenticate_InfrastructureErrors(t *testing.T) {
	t.Run("dial", func(t *testing.T) {
		a := New(testConfig())
		a.dial = func(string, time.Duration) (conn, error) { return nil, errors.New("refused") }
		err := a.Authenticate(context.Background(), "alice", "pw")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("server error on user bind", func(t *testing.T) {
		fc := &fakeConn{
			entries:  []*ldap.Entry{{DN: "uid=alice"}},
			userBind: ldap.NewError(ldap.LDAPResultUnavailable, errors.New("down")),
		}
		err := newWithConn(testConfig(), fc).Authenticate(context.Background(), "alice", "pw")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := newWithConn(testConfig(), &fakeConn{}).Authenticate(ctx, "alice", "pw")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
