package entity

// ProductSummary is the slice of a listing shown next to a conversation.
type ProductSummary struct {
	ID       string   `json:"id" firestore:"id"`
	Title    string   `json:"title" firestore:"title"`
	Price    float64  `json:"price" firestore:"price"`
	Image    string   `json:"image,omitempty" firestore:"-"`
	Images   []string `json:"-" firestore:"images"`
	SellerID string   `json:"seller_id" firestore:"sellerId"`
}

// FirstImage picks the cover image of a listing.
func (p *ProductSummary) FirstImage() string {
	if p.Image != "" {
		return p.Image
	}
	if len(p.Images) > 0 {
		return p.Images[0]
	}
	return ""
}
