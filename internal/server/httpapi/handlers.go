package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/server/models"
)

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Error(context.Background(), "error writing response", "error", err)
		}
	}
}

// writeError maps service errors to HTTP statuses. Access failures all
// collapse into one generic 403 so a probing client cannot distinguish
// "no such grant", "unreachable" and "tag mismatch".
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired),
		errors.Is(err, common.ErrUnauthorized):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, common.ErrAccessDenied),
		errors.Is(err, common.ErrUnreachable),
		errors.Is(err, common.ErrAuthentication):
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.Is(err, common.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrCycle):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict"})
	default:
		s.logger.Error(r.Context(), "internal error", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	user, err := s.users.Register(r.Context(), &models.User{
		UserName:      req.UserName,
		Salt:          req.Salt,
		Verifier:      req.Verifier,
		PublicKey:     req.PublicKey,
		EncPrivateKey: req.EncPrivateKey,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, registerResponse{ID: user.ID})
}

func (s *Server) handleGetSalt(w http.ResponseWriter, r *http.Request) {
	salt, err := s.users.GetSalt(r.Context(), r.PathValue("user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saltResponse{Salt: salt})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	user, tokens, err := s.users.Login(r.Context(), req.UserName, req.Verifier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:   tokens.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		PublicKey:     user.PublicKey,
		EncPrivateKey: user.EncPrivateKey,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	tokens, err := s.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.users.ChangePassword(r.Context(), authedUser(r), req.Salt, req.Verifier, req.EncPrivateKey); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.users.GetPublicKey(r.Context(), r.PathValue("user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: key})
}

func (s *Server) handleGetKeyring(w http.ResponseWriter, r *http.Request) {
	tree, err := s.keyrings.GetTree(r.Context(), authedUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	id, err := s.nodes.CreateFolder(r.Context(), authedUser(r), req.ParentID, req.NameCT, req.WrappedKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, nodeResponse{ID: id})
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	var req uploadFileRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	id, err := s.nodes.UploadFile(r.Context(), authedUser(r), req.ParentID, req.NameCT, req.WrappedKey, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, nodeResponse{ID: id})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	content, err := s.nodes.Download(r.Context(), authedUser(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fileContentResponse{Content: content})
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.nodes.WriteFile(r.Context(), authedUser(r), r.PathValue("id"), req.Content); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := s.nodes.Delete(r.Context(), authedUser(r), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetHolders(w http.ResponseWriter, r *http.Request) {
	holders, err := s.revoking.Holders(r.Context(), authedUser(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := holdersResponse{Holders: make([]holderInfoDTO, 0, len(holders))}
	for _, h := range holders {
		resp.Holders = append(resp.Holders, holderInfoDTO{UserName: h.UserName, PublicKey: h.PublicKey})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.sharing.Share(r.Context(), authedUser(r), req.NodeID, req.Grantee, req.WrappedKey, req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.revoking.Revoke(r.Context(), authedUser(r), req.toBatch()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
