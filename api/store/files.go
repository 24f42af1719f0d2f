package store

import (
	"os"
	"path/filepath"
)

// On-disk names fixed by the console client.
const (
	SavedataBlobName = "savedata.psvimg"
	SavedataXMLName  = "savedata.xml"
	TrophyBlobName   = "TROPUSR.DAT"
	TrophiesXMLName  = "trophies.xml"
	TrophyConfName   = "TROPCONF.SFM"
	AvatarName       = "Avatar.png"
)

// SavedataDir is Users/<npid>/savedata/<titleID>.
func (s *Store) SavedataDir(npid, titleID string) string {
	return filepath.Join(s.UserDir(npid), "savedata", titleID)
}

func (s *Store) SavedataBlobPath(npid, titleID string) string {
	return filepath.Join(s.SavedataDir(npid, titleID), SavedataBlobName)
}

func (s *Store) SavedataXMLPath(npid, titleID string) string {
	return filepath.Join(s.SavedataDir(npid, titleID), SavedataXMLName)
}

// TrophyDir is Users/<npid>/trophy/<commID>.
func (s *Store) TrophyDir(npid, commID string) string {
	return filepath.Join(s.UserDir(npid), "trophy", commID)
}

func (s *Store) TrophyBlobPath(npid, commID string) string {
	return filepath.Join(s.TrophyDir(npid, commID), TrophyBlobName)
}

// TrophiesXMLPath is the per-user trophy summary document, shared
// across communication IDs.
func (s *Store) TrophiesXMLPath(npid string) string {
	return filepath.Join(s.UserDir(npid), "trophy", TrophiesXMLName)
}

func (s *Store) AvatarPath(npid string) string {
	return filepath.Join(s.UserDir(npid), AvatarName)
}

// ReadBlob returns the raw bytes at path. Callers check IsNotExist to
// map a missing blob onto the protocol error.
func (s *Store) ReadBlob(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError("read blob", err)
	}
	return data, nil
}

// WriteBlob writes path, creating parent directories.
func (s *Store) WriteBlob(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WrapError("write blob", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return WrapError("write blob", err)
	}
	return nil
}

// BlobSize is the byte size of path, zero when the blob is absent.
func (s *Store) BlobSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// FileExists reports whether path holds a regular file.
func (s *Store) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// DirExists reports whether path is a directory.
func (s *Store) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// RecomputeQuota walks a user's savedata and trophy blobs and sums
// their sizes. XML sidecars and avatars stay outside the quota.
func (s *Store) RecomputeQuota(npid string) (uint64, error) {
	var total uint64

	savedataRoot := filepath.Join(s.UserDir(npid), "savedata")
	titles, err := os.ReadDir(savedataRoot)
	if err != nil && !os.IsNotExist(err) {
		return 0, WrapError("recompute quota", err)
	}
	for _, title := range titles {
		if !title.IsDir() {
			continue
		}
		total += uint64(s.BlobSize(s.SavedataBlobPath(npid, title.Name())))
	}

	trophyRoot := filepath.Join(s.UserDir(npid), "trophy")
	comms, err := os.ReadDir(trophyRoot)
	if err != nil && !os.IsNotExist(err) {
		return 0, WrapError("recompute quota", err)
	}
	for _, comm := range comms {
		if !comm.IsDir() {
			continue
		}
		total += uint64(s.BlobSize(s.TrophyBlobPath(npid, comm.Name())))
	}

	return total, nil
}

// TrophyConfDir is the shared Trophies/<commID> pool directory.
func (s *Store) TrophyConfDir(commID string) string {
	return filepath.Join(s.dataDir, "Trophies", commID)
}

// ListTrophyConfIDs returns the communication IDs whose pool directory
// already holds a TROPCONF.SFM.
func (s *Store) ListTrophyConfIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "Trophies"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, WrapError("list trophy conf", err)
	}

	ids := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if s.FileExists(filepath.Join(s.TrophyConfDir(entry.Name()), TrophyConfName)) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// WriteTrophyConfFile stores one uploaded configuration file in the
// shared pool.
func (s *Store) WriteTrophyConfFile(commID, name string, data []byte) error {
	return s.WriteBlob(filepath.Join(s.TrophyConfDir(commID), name), data)
}
