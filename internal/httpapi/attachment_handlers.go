package httpapi

import (
	"errors"
	"io"
	"net/http"

	"matchbase.io/internal/attachment"
)

// multipartOverhead is the body allowance on top of the file size limit for
// part headers and boundaries.
const multipartOverhead = 64 << 10

type attachmentList struct {
	Items []attachment.Attachment `json:"items"`
}

func (a *API) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			a.errs.write(w, r, attachment.ErrMissingFile)
			return
		}
		if err != nil {
			a.errs.write(w, r, ErrInvalidBody.Wrapf(err))
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		att, err := a.attachments.Upload(r.Context(), principal(r), r.PathValue("id"), attachment.Upload{
			FileName: part.FileName(),
			Body:     part,
		})
		_ = part.Close()
		if err != nil {
			a.errs.write(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, att)
		return
	}
}

func (a *API) listAttachments(w http.ResponseWriter, r *http.Request) {
	list, err := a.attachments.List(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attachmentList{Items: list})
}
