package mcpserver

// DraftFormatContract describes the listing draft fields and when a draft
// is submitted automatically.
const DraftFormatContract = `# BarterMate Draft Contract

A draft is the one listing being composed on this device. Saving a draft
replaces the previous one.

## Fields

| Field            | Type    | Notes                                              |
|------------------|---------|----------------------------------------------------|
| title            | string  | Up to 120 characters.                              |
| description      | string  | Up to 4000 characters.                             |
| category         | string  | One of the category tags below.                    |
| wanted_category  | string  | A category tag, or "none".                         |
| wanted_details   | string  | Free text describing what is wanted in exchange.   |
| is_free          | boolean | Offered for free.                                  |
| latitude         | number  | WGS84 degrees, -90..90. Send with longitude.       |
| longitude        | number  | WGS84 degrees, -180..180. Send with latitude.      |
| image_uri        | string  | https URL or a local file path (see attach_image). |

Category tags: service, produce, products, experiences, transport, knowledge,
home, other.

## Submission

A draft is complete when title, description, category and both coordinates
are present. Complete drafts are submitted automatically when the device is
online and a user is signed in; use sync_now to try immediately. Incomplete
drafts stay on the device until finished.
`
