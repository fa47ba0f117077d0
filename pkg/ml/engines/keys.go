// Package engines provides the conventions shared by training loops built on
// top of the transform pipelines: the canonical batch field names, device
// selection, batch preparation and latent sampling for generative setups.
package engines

// BatchKey names a field of a training batch.
type BatchKey = string

// CommonKeys are the canonical field names of a supervised batch: the loaders
// and pipelines store the input volume under Image and the ground truth under
// Label; training steps store the network output under Pred and the loss
// value under Loss.
const (
	Image BatchKey = "image"
	Label BatchKey = "label"
	Pred  BatchKey = "pred"
	Loss  BatchKey = "loss"
)

// GanKeys are the field names of a GAN training batch.
const (
	Reals   BatchKey = "reals"
	Fakes   BatchKey = "fakes"
	Latents BatchKey = "latents"
	GLoss   BatchKey = "g_loss"
	DLoss   BatchKey = "d_loss"
)

// RcnnKeys are the extra field names of a region-proposal detection batch, on
// top of Image and Label.
const (
	RoiLabel BatchKey = "roi_label"
	RoiBBox  BatchKey = "roi_bbox"
	RoiMask  BatchKey = "roi_mask"
)
