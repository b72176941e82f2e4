package storage

import (
	"errors"
	"strconv"

	"github.com/google/uuid"

	"solveeverylight/internal/options"
)

// OptionsAccessor persists plugin settings for one profile. It implements
// options.Accessor; read errors fall back to the default.
type OptionsAccessor struct {
	store     *Store
	profileID uuid.UUID
}

var _ options.Accessor = (*OptionsAccessor)(nil)

// ProfileOptions returns the accessor for profileID.
func (s *Store) ProfileOptions(profileID uuid.UUID) *OptionsAccessor {
	return &OptionsAccessor{store: s, profileID: profileID}
}

// Values returns every stored key for the profile.
func (a *OptionsAccessor) Values() (map[string]string, error) {
	rows, err := a.store.DB.Query(`SELECT key, value FROM plugin_options WHERE profile_id=? ORDER BY key;`, a.profileID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (a *OptionsAccessor) get(key string) (string, bool) {
	if a.store == nil {
		return "", false
	}
	var v string
	err := a.store.DB.QueryRow(`SELECT value FROM plugin_options WHERE profile_id=? AND key=?;`, a.profileID.String(), key).Scan(&v)
	if err != nil {
		return "", false
	}
	return v, true
}

func (a *OptionsAccessor) set(key, value string) error {
	if a.store == nil {
		return errors.New("store not initialized")
	}
	_, err := a.store.DB.Exec(`INSERT OR REPLACE INTO plugin_options (profile_id, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP);`,
		a.profileID.String(), key, value)
	return err
}

// Delete removes a key so reads fall back to defaults again.
func (a *OptionsAccessor) Delete(key string) error {
	res, err := a.store.DB.Exec(`DELETE FROM plugin_options WHERE profile_id=? AND key=?;`, a.profileID.String(), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *OptionsAccessor) GetBool(key string, def bool) bool {
	return options.ParseBool(a.get(key))(def)
}

func (a *OptionsAccessor) GetInt32(key string, def int32) int32 {
	return options.ParseInt32(a.get(key))(def)
}

func (a *OptionsAccessor) GetFloat64(key string, def float64) float64 {
	return options.ParseFloat64(a.get(key))(def)
}

func (a *OptionsAccessor) GetString(key, def string) string {
	if v, ok := a.get(key); ok {
		return v
	}
	return def
}

func (a *OptionsAccessor) GetGUID(key string, def uuid.UUID) uuid.UUID {
	return options.ParseGUID(a.get(key))(def)
}

func (a *OptionsAccessor) SetBool(key string, v bool) error {
	return a.set(key, strconv.FormatBool(v))
}

func (a *OptionsAccessor) SetInt32(key string, v int32) error {
	return a.set(key, strconv.FormatInt(int64(v), 10))
}

func (a *OptionsAccessor) SetFloat64(key string, v float64) error {
	return a.set(key, strconv.FormatFloat(v, 'g', -1, 64))
}

func (a *OptionsAccessor) SetString(key, v string) error { return a.set(key, v) }

func (a *OptionsAccessor) SetGUID(key string, v uuid.UUID) error {
	return a.set(key, v.String())
}
