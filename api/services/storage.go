package services

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/store"
	"github.com/vita3k/v3kn/internal/adapters/metrics"
)

// Blob kinds accepted by the download and upload endpoints.
const (
	TypeSavedata = "savedata"
	TypeTrophy   = "trophy"
)

// Title IDs look like PCSB00123, trophy communication IDs like
// NPWR12345_00.
const (
	savedataIDLen    = 9
	savedataIDPrefix = "PCS"
	trophyIDLen      = 12
	trophyIDPrefix   = "NPWR"
)

var trophyConfFilePattern = regexp.MustCompile(`^TROP[0-9]{3}\.PNG$`)

// StorageService moves savedata and trophy blobs in and out of user
// directories and keeps the quota ledger current. Only the primary
// blobs count against the quota; XML sidecars ride along for free.
type StorageService struct {
	store *store.Store
	quota uint64
}

func NewStorageService(s *store.Store, quota uint64) *StorageService {
	return &StorageService{store: s, quota: quota}
}

func validBlobID(typ, id string) bool {
	switch typ {
	case TypeSavedata:
		return len(id) == savedataIDLen && strings.HasPrefix(id, savedataIDPrefix)
	case TypeTrophy:
		return len(id) == trophyIDLen && strings.HasPrefix(id, trophyIDPrefix)
	}
	return false
}

func (svc *StorageService) blobPath(npid, typ, id string) string {
	if typ == TypeSavedata {
		return svc.store.SavedataBlobPath(npid, id)
	}
	return svc.store.TrophyBlobPath(npid, id)
}

// xmlPath is where the optional sidecar lands. Savedata XML sits next
// to its blob; the trophy document is shared across communication IDs.
func (svc *StorageService) xmlPath(npid, typ, id string) string {
	if typ == TypeSavedata {
		return svc.store.SavedataXMLPath(npid, id)
	}
	return svc.store.TrophiesXMLPath(npid)
}

// SaveInfo returns the savedata XML sidecar for one title. A title
// never uploaded and a title uploaded without its sidecar are distinct
// soft conditions the client handles differently.
func (svc *StorageService) SaveInfo(npid, titleID string) ([]byte, error) {
	titleID = strings.TrimSpace(titleID)
	if titleID == "" {
		return nil, domain.ErrMissingTitleID
	}
	if !svc.store.DirExists(svc.store.SavedataDir(npid, titleID)) {
		return nil, domain.WarnNoSavedata
	}
	data, err := svc.store.ReadBlob(svc.store.SavedataXMLPath(npid, titleID))
	if err != nil {
		if store.IsNotExist(err) {
			return nil, domain.WarnNoSavedataInfo
		}
		return nil, err
	}
	return data, nil
}

// TrophiesInfo returns the caller's trophies.xml.
func (svc *StorageService) TrophiesInfo(npid string) ([]byte, error) {
	data, err := svc.store.ReadBlob(svc.store.TrophiesXMLPath(npid))
	if err != nil {
		if store.IsNotExist(err) {
			return nil, domain.WarnNoTrophiesInfo
		}
		return nil, err
	}
	return data, nil
}

// Download returns one stored blob.
func (svc *StorageService) Download(npid, typ, id string) ([]byte, error) {
	if typ != TypeSavedata && typ != TypeTrophy {
		return nil, domain.ErrInvalidType
	}
	if !validBlobID(typ, id) {
		return nil, domain.ErrInvalidID
	}

	data, err := svc.store.ReadBlob(svc.blobPath(npid, typ, id))
	if err != nil {
		if store.IsNotExist(err) {
			return nil, domain.ErrFileNotFound
		}
		return nil, err
	}
	slog.Info("blob downloaded", "npid", npid, "type", typ, "id", id, "bytes", len(data))
	return data, nil
}

// UploadResult reports quota state after an accepted upload.
type UploadResult struct {
	Used  uint64
	Total uint64
}

// Upload replaces a blob and settles the quota delta. The ledger is
// committed under the account lock before the blob hits disk, so a
// rejected upload never mutates either. Replacing a blob with a
// smaller one refunds the difference.
func (svc *StorageService) Upload(npid, typ, id string, blob, xml []byte) (UploadResult, error) {
	if typ != TypeSavedata && typ != TypeTrophy {
		return UploadResult{}, domain.ErrInvalidType
	}
	if !validBlobID(typ, id) {
		return UploadResult{}, domain.ErrInvalidID
	}

	path := svc.blobPath(npid, typ, id)
	delta := int64(len(blob)) - svc.store.BlobSize(path)

	var result UploadResult
	err := svc.store.WithUsers(func(db *domain.UserDB) error {
		user, ok := db.Users[npid]
		if !ok {
			return domain.ErrUserNotFound
		}

		newUsed := int64(user.QuotaUsed) + delta
		if newUsed < 0 {
			newUsed = 0
		}
		if delta > 0 && uint64(newUsed) > svc.quota {
			return domain.ErrQuotaExceeded
		}

		user.QuotaUsed = uint64(newUsed)
		user.LastActivity = time.Now().Unix()
		result = UploadResult{Used: user.QuotaUsed, Total: svc.quota}
		return nil
	})
	if err != nil {
		return UploadResult{}, err
	}

	if err := svc.store.WriteBlob(path, blob); err != nil {
		return UploadResult{}, err
	}
	if xml != nil {
		if err := svc.store.WriteBlob(svc.xmlPath(npid, typ, id), xml); err != nil {
			return UploadResult{}, err
		}
	}

	metrics.UploadBytesTotal.WithLabelValues(typ).Add(float64(len(blob)))
	slog.Info("blob uploaded", "npid", npid, "type", typ, "id", id,
		"bytes", len(blob), "quota_used", result.Used)
	return result, nil
}

// TrophyConfIDs lists communication IDs available in the shared
// configuration pool.
func (svc *StorageService) TrophyConfIDs() ([]string, error) {
	return svc.store.ListTrophyConfIDs()
}

// UploadedFile is one part of a multipart trophy configuration upload.
type UploadedFile struct {
	Name string
	Data []byte
}

func validTrophyConfName(name string) bool {
	switch name {
	case store.TrophyConfName, "TROP.SFM", "ICON0.PNG":
		return true
	}
	return trophyConfFilePattern.MatchString(name)
}

// UploadTrophyConf stores a game's trophy configuration set in the
// shared pool. Every file name is checked before anything is written
// so a bad part cannot leave a partial set behind.
func (svc *StorageService) UploadTrophyConf(id string, files []UploadedFile) error {
	if len(id) != trophyIDLen || !strings.HasPrefix(id, trophyIDPrefix) {
		return domain.ErrInvalidID
	}
	if len(files) == 0 {
		return domain.ErrMissingFile
	}
	for _, f := range files {
		if !validTrophyConfName(f.Name) {
			return domain.ErrInvalidType
		}
	}

	for _, f := range files {
		if err := svc.store.WriteTrophyConfFile(id, f.Name, f.Data); err != nil {
			return err
		}
	}
	slog.Info("trophy conf uploaded", "id", id, "files", len(files))
	return nil
}
