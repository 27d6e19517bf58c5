package httpapi

import "github.com/vaultfs/vaultfs/internal/server/services"

// JSON DTOs. []byte fields travel base64-encoded, which is how every
// ciphertext, wrapped key and salt crosses the wire.

type registerRequest struct {
	UserName      string `json:"username"`
	Salt          []byte `json:"salt"`
	Verifier      []byte `json:"verifier"`
	PublicKey     []byte `json:"public_key"`
	EncPrivateKey []byte `json:"enc_private_key"`
}

type registerResponse struct {
	ID string `json:"id"`
}

type saltResponse struct {
	Salt []byte `json:"salt"`
}

type loginRequest struct {
	UserName string `json:"username"`
	Verifier []byte `json:"verifier"`
}

type loginResponse struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	PublicKey     []byte `json:"public_key"`
	EncPrivateKey []byte `json:"enc_private_key"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	Salt          []byte `json:"salt"`
	Verifier      []byte `json:"verifier"`
	EncPrivateKey []byte `json:"enc_private_key"`
}

type publicKeyResponse struct {
	PublicKey []byte `json:"public_key"`
}

type createFolderRequest struct {
	ParentID   string `json:"parent_id,omitempty"`
	NameCT     []byte `json:"name_ct"`
	WrappedKey []byte `json:"wrapped_key"`
}

type uploadFileRequest struct {
	ParentID   string `json:"parent_id,omitempty"`
	NameCT     []byte `json:"name_ct"`
	WrappedKey []byte `json:"wrapped_key"`
	Content    []byte `json:"content"`
}

type nodeResponse struct {
	ID string `json:"id"`
}

type fileContentResponse struct {
	Content []byte `json:"content"`
}

type writeFileRequest struct {
	Content []byte `json:"content"`
}

type shareRequest struct {
	NodeID     string `json:"node_id"`
	Grantee    string `json:"grantee"`
	WrappedKey []byte `json:"wrapped_key"`
	Role       string `json:"role"`
}

type holderInfoDTO struct {
	UserName  string `json:"username"`
	PublicKey []byte `json:"public_key"`
}

type holdersResponse struct {
	Holders []holderInfoDTO `json:"holders"`
}

type rotatedEntryDTO struct {
	TargetID   string `json:"target_id"`
	WrappedKey []byte `json:"wrapped_key"`
}

type rotatedNodeDTO struct {
	ID      string            `json:"id"`
	NameCT  []byte            `json:"name_ct"`
	Content []byte            `json:"content,omitempty"`
	Entries []rotatedEntryDTO `json:"entries,omitempty"`
	Holders []holderRewrapDTO `json:"holders,omitempty"`
}

type holderRewrapDTO struct {
	UserName   string `json:"username"`
	WrappedKey []byte `json:"wrapped_key"`
}

type revokeRequest struct {
	NodeID           string           `json:"node_id"`
	RevokedUser      string           `json:"revoked_user"`
	ParentWrappedKey []byte           `json:"parent_wrapped_key,omitempty"`
	Nodes            []rotatedNodeDTO `json:"nodes"`
}

func (r *revokeRequest) toBatch() *services.RevokeBatch {
	batch := &services.RevokeBatch{
		NodeID:           r.NodeID,
		RevokedUser:      r.RevokedUser,
		ParentWrappedKey: r.ParentWrappedKey,
	}
	for _, n := range r.Nodes {
		node := services.RotatedNode{ID: n.ID, NameCT: n.NameCT, Content: n.Content}
		for _, e := range n.Entries {
			node.Entries = append(node.Entries, services.RotatedEntry{TargetID: e.TargetID, WrappedKey: e.WrappedKey})
		}
		for _, h := range n.Holders {
			node.Holders = append(node.Holders, services.HolderRewrap{UserName: h.UserName, WrappedKey: h.WrappedKey})
		}
		batch.Nodes = append(batch.Nodes, node)
	}
	return batch
}

type errorResponse struct {
	Error string `json:"error"`
}
