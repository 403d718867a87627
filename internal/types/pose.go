package types

// DefaultJoints is the joint count of the 17-point COCO skeleton.
const DefaultJoints = 17

// JointNames lists the COCO keypoint names in model output order.
var JointNames = [DefaultJoints]string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
}

// Joint is one anatomical landmark. X and Y are normalized to [0,1]
// relative to the processed frame; Score is the detection confidence.
type Joint struct {
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	Score float64 `json:"score" msgpack:"score"`
}

// KeypointSet is an ordered set of joints, indexed by anatomical joint id.
// A set whose length differs from the extractor's joint count means no pose
// was detected.
type KeypointSet []Joint

// Detected reports whether the set holds a full pose of the given joint count.
func (k KeypointSet) Detected(joints int) bool {
	return joints > 0 && len(k) == joints
}

// FeatureVector is the fixed-width numeric encoding of one KeypointSet.
type FeatureVector []float32
