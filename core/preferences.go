package core

// Preferences are the per-user generation settings. They are always
// written as a whole.
type Preferences struct {
	AspectRatio    string `bson:"aspect_ratio" json:"aspectRatio"`
	NegativePrompt string `bson:"negative_prompt" json:"negativePrompt"`
}

func DefaultPreferences() Preferences {
	return Preferences{AspectRatio: DefaultRatio().Label}
}

// Ratio resolves the stored label. Labels that are no longer supported fall
// back to the default ratio.
func (p Preferences) Ratio() AspectRatio {
	if r, ok := ParseRatio(p.AspectRatio); ok {
		return r
	}
	return DefaultRatio()
}
