package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orneryd/graphkernel/pkg/core"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// NodeResponse is the JSON form of a node.
type NodeResponse struct {
	ID         storage.NodeID `json:"id"`
	Properties map[string]any `json:"properties"`
}

// RelationshipResponse is the JSON form of a relationship.
type RelationshipResponse struct {
	ID         storage.RelationshipID `json:"id"`
	Type       string                 `json:"type"`
	Start      storage.NodeID         `json:"start"`
	End        storage.NodeID         `json:"end"`
	Properties map[string]any         `json:"properties"`
}

type createNodeRequest struct {
	Properties map[string]any `json:"properties"`
}

type createRelationshipRequest struct {
	Start      storage.NodeID `json:"start"`
	End        storage.NodeID `json:"end"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

type setPropertyRequest struct {
	Value any `json:"value"`
}

func nodeResponse(n *core.NodeHandle) (NodeResponse, error) {
	props, err := n.Properties()
	if err != nil {
		return NodeResponse{}, err
	}
	return NodeResponse{ID: n.ID(), Properties: props}, nil
}

func relationshipResponse(r *core.RelationshipHandle) (RelationshipResponse, error) {
	typ, err := r.Type()
	if err != nil {
		return RelationshipResponse{}, err
	}
	props, err := r.Properties()
	if err != nil {
		return RelationshipResponse{}, err
	}
	return RelationshipResponse{
		ID:         r.ID(),
		Type:       typ,
		Start:      r.StartNodeID(),
		End:        r.EndNodeID(),
		Properties: props,
	}, nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad id %q", core.ErrIllegalValue, raw)
	}
	return id, nil
}

// decodeOptional reads a JSON body that may be empty.
func (s *Server) decodeOptional(r *http.Request, v any) error {
	err := s.readJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: invalid request body: %v", core.ErrIllegalValue, err)
	}
	return nil
}

func setAll(h interface{ SetProperty(string, any) error }, props map[string]any) error {
	for k, v := range props {
		if err := h.SetProperty(k, v); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Nodes
// =============================================================================

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := s.decodeOptional(r, &req); err != nil {
		s.writeKernelError(w, err)
		return
	}
	props, err := propertyValues(req.Properties)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}

	var resp NodeResponse
	err = s.db.Update(func(tx *txn.Transaction) error {
		n, err := s.db.Nodes().CreateNode(tx)
		if err != nil {
			return err
		}
		if err := setAll(n, props); err != nil {
			return err
		}
		resp, err = nodeResponse(n)
		return err
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}

	var resp NodeResponse
	err = s.db.View(func(tx *txn.Transaction) error {
		n, err := s.db.Nodes().GetNode(tx, storage.NodeID(id))
		if err != nil {
			return err
		}
		resp, err = nodeResponse(n)
		return err
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetReferenceNode(w http.ResponseWriter, r *http.Request) {
	var resp NodeResponse
	err := s.db.View(func(tx *txn.Transaction) error {
		n, err := s.db.Nodes().ReferenceNode(tx)
		if err != nil {
			return err
		}
		resp, err = nodeResponse(n)
		return err
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSetReferenceNode sets the reference node; id 0 clears it.
func (s *Server) handleSetReferenceNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	if err := s.db.Nodes().SetReferenceNode(storage.NodeID(id)); err != nil {
		s.writeKernelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}

	err = s.db.Update(func(tx *txn.Transaction) error {
		n, err := s.db.Nodes().GetNode(tx, storage.NodeID(id))
		if err != nil {
			return err
		}
		return n.Delete()
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeRelationships(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	dir, err := core.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	types := r.URL.Query()["type"]

	resp := []RelationshipResponse{}
	err = s.db.View(func(tx *txn.Transaction) error {
		n, err := s.db.Nodes().GetNode(tx, storage.NodeID(id))
		if err != nil {
			return err
		}
		rels, err := n.Relationships(dir, types...)
		if err != nil {
			return err
		}
		for _, rel := range rels {
			rr, err := relationshipResponse(rel)
			if err != nil {
				return err
			}
			resp = append(resp, rr)
		}
		return nil
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetNodeProperty(w http.ResponseWriter, r *http.Request) {
	s.setProperty(w, r, func(tx *txn.Transaction, id uint64) (propertyTarget, error) {
		return s.db.Nodes().GetNode(tx, storage.NodeID(id))
	})
}

func (s *Server) handleRemoveNodeProperty(w http.ResponseWriter, r *http.Request) {
	s.removeProperty(w, r, func(tx *txn.Transaction, id uint64) (propertyTarget, error) {
		return s.db.Nodes().GetNode(tx, storage.NodeID(id))
	})
}

// =============================================================================
// Relationships
// =============================================================================

func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if err := s.decodeOptional(r, &req); err != nil {
		s.writeKernelError(w, err)
		return
	}
	props, err := propertyValues(req.Properties)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}

	var resp RelationshipResponse
	err = s.db.Update(func(tx *txn.Transaction) error {
		rel, err := s.db.Nodes().CreateRelationship(tx, req.Start, req.End, req.Type)
		if err != nil {
			return err
		}
		if err := setAll(rel, props); err != nil {
			return err
		}
		resp, err = relationshipResponse(rel)
		return err
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetRelationship(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}

	var resp RelationshipResponse
	err = s.db.View(func(tx *txn.Transaction) error {
		rel, err := s.db.Nodes().GetRelationship(tx, storage.RelationshipID(id))
		if err != nil {
			return err
		}
		resp, err = relationshipResponse(rel)
		return err
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}

	err = s.db.Update(func(tx *txn.Transaction) error {
		rel, err := s.db.Nodes().GetRelationship(tx, storage.RelationshipID(id))
		if err != nil {
			return err
		}
		return rel.Delete()
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRelationshipProperty(w http.ResponseWriter, r *http.Request) {
	s.setProperty(w, r, func(tx *txn.Transaction, id uint64) (propertyTarget, error) {
		return s.db.Nodes().GetRelationship(tx, storage.RelationshipID(id))
	})
}

func (s *Server) handleRemoveRelationshipProperty(w http.ResponseWriter, r *http.Request) {
	s.removeProperty(w, r, func(tx *txn.Transaction, id uint64) (propertyTarget, error) {
		return s.db.Nodes().GetRelationship(tx, storage.RelationshipID(id))
	})
}

// =============================================================================
// Properties
// =============================================================================

// propertyTarget is satisfied by both handle types.
type propertyTarget interface {
	SetProperty(key string, value any) error
	RemoveProperty(key string) (any, error)
}

type resolveFunc func(tx *txn.Transaction, id uint64) (propertyTarget, error)

func (s *Server) setProperty(w http.ResponseWriter, r *http.Request, resolve resolveFunc) {
	id, err := pathID(r)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	var req setPropertyRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	value, err := propertyValue(req.Value)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	key := chi.URLParam(r, "key")

	err = s.db.Update(func(tx *txn.Transaction) error {
		target, err := resolve(tx, id)
		if err != nil {
			return err
		}
		return target.SetProperty(key, value)
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) removeProperty(w http.ResponseWriter, r *http.Request, resolve resolveFunc) {
	id, err := pathID(r)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	key := chi.URLParam(r, "key")

	var old any
	err = s.db.Update(func(tx *txn.Transaction) error {
		target, err := resolve(tx, id)
		if err != nil {
			return err
		}
		old, err = target.RemoveProperty(key)
		return err
	})
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"key": key, "previous": old})
}
