package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// handleHLS serves playlist and segment requests of subscriber players:
//
//	GET /{uid}/{password}/{device}/{sid}/{cid}/{file}
//
// The first request on a connection logs the subscriber in by id and
// binds the claim to the connection's session. Local outputs are served
// from disk; everything else is redirected.
func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	cid, err := strconv.ParseInt(r.PathValue("cid"), 10, 32)
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid channel id: %s", r.PathValue("cid")))
		return
	}
	file := r.PathValue("file")
	if file == "" || file == "." || file == ".." || strings.ContainsAny(file, `/\`) {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid file name"))
		return
	}
	uid, sid := r.PathValue("uid"), r.PathValue("sid")

	ctx := r.Context()
	sess, release := s.connSession(r)
	defer release()

	claim, err := s.mgr.IsLoggedIn(sess)
	if err != nil {
		claim, err = s.mgr.LoginByID(ctx, uid, r.PathValue("password"), r.PathValue("device"))
		if err != nil {
			s.writeDomainErr(w, err)
			return
		}
		if err := s.mgr.Register(ctx, sess, claim); err != nil {
			s.writeDomainErr(w, err)
			return
		}
	} else if claim.UserID != uid {
		s.writeDomainErr(w, errSessionMismatch)
		return
	}

	loc, err := s.mgr.Resolve(ctx, claim, sid, int32(cid))
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}

	if !loc.IsDirectory() {
		s.mgr.SetWatching(sess, sid)
		http.Redirect(w, r, loc.URL, http.StatusPermanentRedirect)
		return
	}

	path := filepath.Join(loc.Directory, file)
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		s.writeErr(w, http.StatusNotFound, fmt.Errorf("file %s not found", file))
		return
	}
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if fi.IsDir() {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("%s is a directory", file))
		return
	}
	http.ServeFile(w, r, path)
}
