// SPDX-License-Identifier: AGPL-3.0-only
package cloudstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetSettings(t *testing.T) {
	s, mock := setupMockStore(t)

	doc, err := json.Marshal(Settings{
		APIVersion: "v24.0",
		Groups:     []domain.Source{{ID: "g1", DisplayName: "Makers"}},
		Pages:      []domain.Source{{ID: "p1"}},
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT document FROM user_settings WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(doc))

	settings, err := s.GetSettings(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "v24.0", settings.APIVersion)

	sources := settings.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, domain.Source{ID: "g1", Kind: domain.KindGroup, DisplayName: "Makers"}, sources[0])
	assert.Equal(t, domain.KindPage, sources[1].Kind)
	assert.False(t, settings.HasToken())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSettingsNotFound(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT document FROM user_settings`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	_, err := s.GetSettings(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutSettings(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectExec(`INSERT INTO user_settings .* ON CONFLICT \(user_id\) DO UPDATE`).
		WithArgs("u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.PutSettings(context.Background(), "u1", &Settings{EncryptedToken: []byte{1, 2}, TokenNonce: []byte{3}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutSettingsError(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectExec(`INSERT INTO user_settings`).WillReturnError(errors.New("connection reset"))

	err := s.PutSettings(context.Background(), "u1", &Settings{})
	assert.ErrorContains(t, err, "connection reset")
}

func TestPhoneRecords(t *testing.T) {
	s, mock := setupMockStore(t)
	at := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	rec := domain.PhoneRecord{UserID: "42", Phone: "+100", Source: "phones.json", DiscoveredAt: at}

	mock.ExpectExec(`INSERT INTO phone_records .* ON CONFLICT \(owner_id, user_id\) DO NOTHING`).
		WithArgs("owner", "42", "+100", "phones.json", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT user_id, phone, source, discovered_at\s+FROM phone_records WHERE owner_id = \$1`).
		WithArgs("owner").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "phone", "source", "discovered_at"}).
			AddRow("42", "+100", "phones.json", at))

	require.NoError(t, s.SavePhoneRecord(context.Background(), "owner", rec))

	records, err := s.ListPhoneRecords(context.Background(), "owner")
	require.NoError(t, err)
	assert.Equal(t, []domain.PhoneRecord{rec}, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}
