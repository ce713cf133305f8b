package detect

import "fmt"

// postprocess converts a backend-native output buffer into scored
// detections, applying both the model's internal threshold and the caller's
// threshold, and truncating to maxDetections while preserving output order.
func postprocess(out RawOutput, desc Descriptor, threshold float64, maxDetections int) []Detection {
	switch desc.Family {
	case FamilySSD:
		return postprocessSSD(out, desc, threshold, maxDetections)
	case FamilyYOLO:
		// TODO: decode the YOLO output grid; until then YOLO-family models
		// only produce detections through the simulated fallback.
		return nil
	default:
		return nil
	}
}

// postprocessSSD decodes the flat SSD detection layout: rows of 7 floats
// [image-id, class-index, confidence, x1, y1, x2, y2] with corner
// coordinates already normalized to [0, 1].
func postprocessSSD(out RawOutput, desc Descriptor, threshold float64, maxDetections int) []Detection {
	const fields = 7
	rows := len(out.Data) / fields

	var detections []Detection
	for i := 0; i < rows; i++ {
		row := out.Data[i*fields : (i+1)*fields]

		score := float64(row[2])
		if score <= float64(desc.Threshold) || score < threshold {
			continue
		}

		classIdx := int(row[1])
		label := fmt.Sprintf("class_%d", classIdx)
		if classIdx >= 0 && classIdx < len(desc.Labels) {
			label = desc.Labels[classIdx]
		}

		detections = append(detections, Detection{
			Box:   [4]float64{clamp01(row[3]), clamp01(row[4]), clamp01(row[5]), clamp01(row[6])},
			Label: label,
			Score: score,
		})
		if len(detections) >= maxDetections {
			break
		}
	}
	return detections
}

func clamp01(v float32) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return float64(v)
	}
}
