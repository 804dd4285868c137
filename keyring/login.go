package keyring

import (
	"encoding/json"
	"fmt"

	"github.com/yllada/anonvpn/common"
)

// loginAccount is the entry holding the saved service login.
const loginAccount = "login"

type login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SaveLogin stores the username and password used to authenticate.
func SaveLogin(s common.CredentialStore, username, password string) error {
	data, err := json.Marshal(login{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	return s.Store(loginAccount, string(data))
}

// LoadLogin returns the saved login, or common.ErrCredentialsNotFound.
func LoadLogin(s common.CredentialStore) (username, password string, err error) {
	data, err := s.Get(loginAccount)
	if err != nil {
		return "", "", err
	}
	var l login
	if err := json.Unmarshal([]byte(data), &l); err != nil || l.Username == "" {
		return "", "", fmt.Errorf("%w: saved login is malformed", common.ErrCredentialsNotFound)
	}
	return l.Username, l.Password, nil
}

// DeleteLogin forgets the saved login.
func DeleteLogin(s common.CredentialStore) error {
	return s.Delete(loginAccount)
}
