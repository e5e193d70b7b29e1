package ingest

import "image/color"

// AbnormalityClass describes one model output class: display name plus the
// overlay color used when compositing findings onto the canonical image.
type AbnormalityClass struct {
	Name  string
	Color color.NRGBA
}

var abnormalityClasses = map[int]AbnormalityClass{
	0: {Name: "Lung Nodules", Color: color.NRGBA{R: 255, G: 165, B: 0, A: 255}},
	1: {Name: "Consolidation", Color: color.NRGBA{R: 0, G: 128, B: 0, A: 255}},
	2: {Name: "Pleural Effusion", Color: color.NRGBA{R: 0, G: 0, B: 255, A: 255}},
	3: {Name: "Opacity", Color: color.NRGBA{R: 255, G: 192, B: 203, A: 255}},
	4: {Name: "Rib Fractures", Color: color.NRGBA{R: 255, G: 140, B: 0, A: 255}},
	5: {Name: "Pneumothorax", Color: color.NRGBA{R: 0, G: 255, B: 255, A: 255}},
	6: {Name: "Cardiomegaly", Color: color.NRGBA{R: 128, G: 0, B: 128, A: 255}},
	7: {Name: "Lymphadenopathy", Color: color.NRGBA{R: 255, G: 0, B: 0, A: 255}},
	8: {Name: "Cavity", Color: color.NRGBA{R: 144, G: 238, B: 144, A: 255}},
}

var unknownAbnormality = AbnormalityClass{
	Name:  "Unknown",
	Color: color.NRGBA{R: 255, G: 0, B: 0, A: 255},
}

// ClassForID resolves a model class id; unrecognized ids fall back to a red
// "Unknown" class rather than failing the job.
func ClassForID(id int) AbnormalityClass {
	if c, ok := abnormalityClasses[id]; ok {
		return c
	}
	return unknownAbnormality
}
