package derive

import (
	"os"
	"path/filepath"

	"github.com/dchest/safefile"
	"github.com/google/uuid"

	"mediaserver/internal/mediaerr"
)

// stageAndPublish writes a freshly encoded derivation result into the blob
// directory under finalName. Unlike the upload path (digest.WriteBytes,
// staged through google/renameio from bytes already on the wire), a
// derived result only exists in memory once the pipeline finishes, so it
// is staged through its own uuid-named scratch file, committed durably via
// safefile, then published under its content-addressed name.
func stageAndPublish(blobDir, finalName string, data []byte) error {
	tmpPath := filepath.Join(blobDir, ".derive-"+uuid.NewString()+".tmp")
	f, err := safefile.Create(tmpPath, 0o644)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "create staging file for %s", finalName)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "write staging file for %s", finalName)
	}
	if err := f.Commit(); err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "publish staging file for %s", finalName)
	}
	if err := os.Rename(tmpPath, filepath.Join(blobDir, finalName)); err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "rename staged file into place for %s", finalName)
	}
	return nil
}
