package service

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/makeasinger/videogen/internal/model"
)

const placeholderContentType = "video/mp4"

// SynthesizeVideo builds the placeholder asset for a job: an ISO BMFF file with
// an ftyp box and a free box carrying the job metadata. The output is
// deterministic for a given record, so it can be rebuilt on demand when no
// object storage is configured.
func SynthesizeVideo(job *model.ProviderJob) []byte {
	var buf bytes.Buffer

	ftyp := []byte("isom")
	ftyp = binary.BigEndian.AppendUint32(ftyp, 0x200)
	for _, brand := range []string{"isom", "iso2", "mp41"} {
		ftyp = append(ftyp, brand...)
	}
	writeBox(&buf, "ftyp", ftyp)

	meta := fmt.Sprintf("job=%s\nmodel=%s\nsize=%s\nduration=%.0f\nprompt=%s\n",
		job.ID, job.Model, job.Size, job.DurationSeconds, job.Prompt)
	writeBox(&buf, "free", []byte(meta))

	return buf.Bytes()
}

func writeBox(buf *bytes.Buffer, kind string, payload []byte) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)+8))
	copy(header[4:], kind)
	buf.Write(header[:])
	buf.Write(payload)
}
