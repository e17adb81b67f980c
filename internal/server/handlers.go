package server

import (
	"net/http"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/qrbridge"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/verifier"
	"github.com/go-chi/chi/v5"
)

type qrCodeRequest struct {
	QRCode string `json:"qrCode"`
}

type tagVerifyRequest struct {
	EncryptedData string `json:"encryptedData"`
}

type tamperCodeRequest struct {
	Code string `json:"code"`
}

// inspectionView adds the signature check to a stored report.
type inspectionView struct {
	model.InspectionReport
	SignatureValid bool `json:"signatureValid"`
}

func (s *Server) handleCreateBridge(w http.ResponseWriter, r *http.Request) {
	var req model.CreationData
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.v.CreatePhysicalBridge(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifier.VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.v.VerifyPhysicalAsset(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (s *Server) handleVerifyQR(w http.ResponseWriter, r *http.Request) {
	var req qrCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.v.Bridges().QR.VerifyQRCode(r.Context(), req.QRCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (s *Server) handleQRAssetInfo(w http.ResponseWriter, r *http.Request) {
	var req qrCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.v.Bridges().QR.GetAssetInfo(r.Context(), req.QRCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, info)
}

func (s *Server) handleBatchQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assets []qrbridge.AssetDescriptor `json:"assets"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.v.Bridges().QR.BatchGenerateQRCodes(r.Context(), req.Assets)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, items)
}

func (s *Server) handleNFCSupport(w http.ResponseWriter, r *http.Request) {
	support, err := s.v.Bridges().NFC.CheckNFCSupport(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, support)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.v.Bridges().NFC.StartNFCScanning(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, session)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if !s.v.Bridges().NFC.StopNFCScanning(chi.URLParam(r, "sessionId")) {
		s.writeError(w, r, errordefs.New(errordefs.PHG_NOT_FOUND, "scanning session not found", ""))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) handleReadTag(w http.ResponseWriter, r *http.Request) {
	res, err := s.v.Bridges().NFC.ReadNFCTag(r.Context(), chi.URLParam(r, "tagId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res.Success {
		s.writeError(w, r, errordefs.New(res.ErrorCode, res.Error, ""))
		return
	}
	writeSuccess(w, http.StatusOK, res.Tag)
}

func (s *Server) handleTagAssetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.v.Bridges().NFC.GetAssetInfoFromNFC(r.Context(), chi.URLParam(r, "tagId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, info)
}

func (s *Server) handleVerifyTag(w http.ResponseWriter, r *http.Request) {
	var req tagVerifyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	res, err := s.v.Bridges().NFC.VerifyNFCTag(r.Context(), chi.URLParam(r, "tagId"), req.EncryptedData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (s *Server) handleUpdateTagMetadata(w http.ResponseWriter, r *http.Request) {
	var md model.Metadata
	if err := decodeJSON(r, &md); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.v.Bridges().NFC.UpdateTagMetadata(r.Context(), chi.URLParam(r, "tagId"), md)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, errordefs.New(errordefs.PHG_NOT_FOUND, "NFC tag not registered", ""))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleRevokeTag(w http.ResponseWriter, r *http.Request) {
	revoked, err := s.v.Bridges().NFC.RevokeTag(r.Context(), chi.URLParam(r, "tagId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (s *Server) handleSubmitInspection(w http.ResponseWriter, r *http.Request) {
	var rep model.InspectionReport
	if err := decodeJSON(r, &rep); err != nil {
		s.writeError(w, r, err)
		return
	}
	// An empty inspectorId is left to report validation.
	if rep.InspectorID != "" && rep.InspectorID != subject(r.Context()) {
		s.writeError(w, r, errordefs.New(errordefs.PHG_AUTHZ, "inspectorId must match token subject", ""))
		return
	}
	// Signatures are always computed server side.
	rep.Signature = ""
	stored, err := s.v.SubmitInspectionReport(r.Context(), rep)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, stored)
}

func (s *Server) handleGetInspection(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.v.GetInspectionReport(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, inspectionView{InspectionReport: rep, SignatureValid: s.v.VerifyInspectionSignature(rep)})
}

func (s *Server) handleAssetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.v.GetAssetVerificationStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, status)
}

func (s *Server) handleTamperCode(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	code, err := s.v.GenerateTamperEvidenceCode(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]string{"code": code})
}

func (s *Server) handleVerifyTamperCode(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req tamperCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"valid": s.v.VerifyTamperEvidenceCode(req.Code, id)})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.v.GetVerificationAnalytics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, a)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	qr, err := s.v.Bridges().QR.Statistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nfc, err := s.v.Bridges().NFC.Statistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"qr": qr, "nfc": nfc})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.v.ExportVerificationData(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, snap)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var snap model.Snapshot
	if err := decodeJSON(r, &snap); err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.v.ImportVerificationData(r.Context(), snap)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, sum)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.v.ClearVerificationHistory(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
