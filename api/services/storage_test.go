package services

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/store"
)

const (
	testTitleID = "PCSB00123"
	testCommID  = "NPWR12345_00"
)

func newStorageHarness(t *testing.T, quota uint64) (*StorageService, *store.Store) {
	t.Helper()
	s := newTestStore(t)
	seedUser(t, s, "Aoife")
	return NewStorageService(s, quota), s
}

func quotaUsedOf(t *testing.T, s *store.Store, npid string) uint64 {
	t.Helper()
	var used uint64
	err := s.ViewUsers(func(db *domain.UserDB) error {
		used = db.Users[npid].QuotaUsed
		return nil
	})
	require.NoError(t, err)
	return used
}

func TestUploadValidation(t *testing.T) {
	svc, _ := newStorageHarness(t, testQuota)

	_, err := svc.Upload("Aoife", "screenshots", testTitleID, []byte("x"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidType)

	for _, id := range []string{"", "PCS", "XCSB00123", "PCSB001234", "NPWR12345_00"} {
		_, err = svc.Upload("Aoife", TypeSavedata, id, []byte("x"), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidID, "savedata id %q", id)
	}
	for _, id := range []string{"", "NPWR", "PCSB00123", "NPWR12345_000"} {
		_, err = svc.Upload("Aoife", TypeTrophy, id, []byte("x"), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidID, "trophy id %q", id)
	}

	_, err = svc.Upload("Nobody", TypeSavedata, testTitleID, []byte("x"), nil)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUploadQuotaAccounting(t *testing.T) {
	svc, s := newStorageHarness(t, 100)

	result, err := svc.Upload("Aoife", TypeSavedata, testTitleID, make([]byte, 60), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), result.Used)
	assert.Equal(t, uint64(100), result.Total)
	assert.Equal(t, uint64(60), quotaUsedOf(t, s, "Aoife"))

	// A second title would overflow: rejected, nothing changes.
	_, err = svc.Upload("Aoife", TypeSavedata, "PCSB00999", make([]byte, 50), nil)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, uint64(60), quotaUsedOf(t, s, "Aoife"))
	assert.False(t, s.FileExists(s.SavedataBlobPath("Aoife", "PCSB00999")))

	// Replacing with a smaller blob refunds the difference.
	result, err = svc.Upload("Aoife", TypeSavedata, testTitleID, make([]byte, 30), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), result.Used)

	// Now the second title fits.
	result, err = svc.Upload("Aoife", TypeSavedata, "PCSB00999", make([]byte, 50), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(80), result.Used)

	// Landing exactly on the limit is allowed.
	result, err = svc.Upload("Aoife", TypeTrophy, testCommID, make([]byte, 20), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), result.Used)

	_, err = svc.Upload("Aoife", TypeSavedata, "PCSB00777", []byte("x"), nil)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestDownloadRoundTrip(t *testing.T) {
	svc, _ := newStorageHarness(t, testQuota)

	blob := []byte("savedata-bytes")
	_, err := svc.Upload("Aoife", TypeSavedata, testTitleID, blob, nil)
	require.NoError(t, err)

	got, err := svc.Download("Aoife", TypeSavedata, testTitleID)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	_, err = svc.Download("Aoife", "screenshots", testTitleID)
	assert.ErrorIs(t, err, domain.ErrInvalidType)
	_, err = svc.Download("Aoife", TypeSavedata, "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = svc.Download("Aoife", TypeSavedata, "PCSB99999")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
	_, err = svc.Download("Aoife", TypeTrophy, testCommID)
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestSaveInfoStates(t *testing.T) {
	svc, _ := newStorageHarness(t, testQuota)

	_, err := svc.SaveInfo("Aoife", "  ")
	assert.ErrorIs(t, err, domain.ErrMissingTitleID)

	_, err = svc.SaveInfo("Aoife", testTitleID)
	assert.ErrorIs(t, err, domain.WarnNoSavedata)

	// Blob without its sidecar: the title exists but has no info.
	_, err = svc.Upload("Aoife", TypeSavedata, testTitleID, []byte("blob"), nil)
	require.NoError(t, err)
	_, err = svc.SaveInfo("Aoife", testTitleID)
	assert.ErrorIs(t, err, domain.WarnNoSavedataInfo)

	xml := []byte(`<savedata title="Tearaway"/>`)
	_, err = svc.Upload("Aoife", TypeSavedata, testTitleID, []byte("blob"), xml)
	require.NoError(t, err)

	got, err := svc.SaveInfo("Aoife", testTitleID)
	require.NoError(t, err)
	assert.Equal(t, xml, got)
}

func TestTrophiesInfoAndSidecarOutsideQuota(t *testing.T) {
	svc, s := newStorageHarness(t, 100)

	_, err := svc.TrophiesInfo("Aoife")
	assert.ErrorIs(t, err, domain.WarnNoTrophiesInfo)

	xml := []byte(`<trophies><trophy bronze="2" unlocked_count="2"/></trophies>`)
	result, err := svc.Upload("Aoife", TypeTrophy, testCommID, make([]byte, 40), xml)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), result.Used, "the XML sidecar is free")

	got, err := svc.TrophiesInfo("Aoife")
	require.NoError(t, err)
	assert.Equal(t, xml, got)
	assert.True(t, s.FileExists(s.TrophiesXMLPath("Aoife")))
}

func TestTrophyConfPool(t *testing.T) {
	svc, s := newStorageHarness(t, testQuota)

	ids, err := svc.TrophyConfIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	err = svc.UploadTrophyConf("bad", []UploadedFile{{Name: "TROPCONF.SFM", Data: []byte("x")}})
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	err = svc.UploadTrophyConf(testCommID, nil)
	assert.ErrorIs(t, err, domain.ErrMissingFile)

	// One bad name poisons the whole batch; nothing lands on disk.
	err = svc.UploadTrophyConf(testCommID, []UploadedFile{
		{Name: "TROPCONF.SFM", Data: []byte("conf")},
		{Name: "evil.exe", Data: []byte("nope")},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidType)
	assert.False(t, s.FileExists(filepath.Join(s.TrophyConfDir(testCommID), store.TrophyConfName)))

	for _, name := range []string{"TROP12.PNG", "trop001.png", "TROP0001.PNG", "ICON1.PNG"} {
		err = svc.UploadTrophyConf(testCommID, []UploadedFile{{Name: name, Data: []byte("x")}})
		assert.ErrorIs(t, err, domain.ErrInvalidType, "name %q", name)
	}

	err = svc.UploadTrophyConf(testCommID, []UploadedFile{
		{Name: "TROPCONF.SFM", Data: []byte("conf")},
		{Name: "TROP.SFM", Data: []byte("trop")},
		{Name: "ICON0.PNG", Data: []byte("icon")},
		{Name: "TROP001.PNG", Data: []byte("t1")},
	})
	require.NoError(t, err)

	ids, err = svc.TrophyConfIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{testCommID}, ids)
}
